package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"reward-anomaly-engine/internal/httpapi"
	"reward-anomaly-engine/internal/version"
)

// Serve runs the HTTP boundary until SIGINT/SIGTERM, then drains in-flight
// requests within http.shutdown_timeout. With opts.Watch the watcher shares
// the server's report cache.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if opts.Watch && store == nil {
		return errors.New("--watch requires database.dsn")
	}
	checks := make(map[string]httpapi.Pinger)
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; reports will fail with store unavailable")
	} else {
		defer closeStore()
		checks["postgres"] = store
	}

	reports, backend, closeCache := a.newReportCache(ctx, a.newEngine(store))
	defer closeCache()
	if backend != nil {
		checks["redis"] = backend
	}

	router := httpapi.NewRouter(a.Config.HTTP, reports, checks, a.Logger)
	srv := httpapi.NewServer(a.Config.HTTP, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", srv.Addr).Str("version", version.Version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.Config.HTTP.ShutdownTimeout)
		defer cancel()
		a.Logger.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	if opts.Watch {
		w := a.newWatcher(reports, store)
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}
	a.Logger.Info().Msg("server stopped")
	return nil
}
