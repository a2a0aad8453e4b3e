package app

import (
	"context"
	"errors"
)

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot migrate")
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	count, err := store.CountEvents(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("reward_events", count).Msg("schema applied")
	return nil
}
