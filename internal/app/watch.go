package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"reward-anomaly-engine/internal/scheduler"
	"reward-anomaly-engine/internal/storage"
	"reward-anomaly-engine/internal/watcher"
)

// Watch executes the long-running anomaly watcher.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot watch for anomalies")
	}
	defer closeStore()

	reports, _, closeCache := a.newReportCache(ctx, a.newEngine(store))
	defer closeCache()

	w := a.newWatcher(reports, store)

	a.Logger.Info().Str("timeframe", a.Config.Watch.Timeframe).Dur("interval", a.Config.Watch.Interval).Msg("starting anomaly watcher")
	err = w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("anomaly watcher stopped")
	return nil
}

func (a *App) newWatcher(reports watcher.ReportSource, store *storage.Store) *watcher.Watcher {
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Watch.Interval,
		AlignToStart: a.Config.Watch.AlignToBucket,
		StartupDelay: a.Config.Watch.StartupDelay,
		Immediate:    true,
	}, a.Logger)

	notifier := a.newNotifier()
	if a.Config.Alerting.Enabled && notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured; anomalies are recorded only")
	}

	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
	}
	return watcher.New(a.Config, sched, reports, alertStore, notifier, a.Logger)
}
