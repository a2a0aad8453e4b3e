package app

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"

	"reward-anomaly-engine/internal/alerting"
	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/cache"
	"reward-anomaly-engine/internal/config"
	"reward-anomaly-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) engineOptions() anomaly.Options {
	return anomaly.Options{
		Spike: anomaly.SpikeSettings{
			CountThreshold: a.Config.Spike.CountThreshold,
			Multiplier:     a.Config.Spike.Multiplier,
		},
		Ranking: anomaly.RankingSettings{
			TopN:          a.Config.Ranking.TopN,
			ConfirmedOnly: a.Config.Ranking.ConfirmedOnly,
		},
		Location:     a.Config.Location(),
		StoreTimeout: a.Config.Engine.StoreTimeout,
		RetryBackoff: a.Config.Engine.RetryBackoff,
	}
}

// newEngine wires the store into the engine. A nil store leaves the engine
// without a source so every report fails with ErrStoreUnavailable.
func (a *App) newEngine(store *storage.Store) *anomaly.Engine {
	var source anomaly.Source
	if store != nil {
		source = store
	}
	return anomaly.NewEngine(source, a.engineOptions(), a.Logger)
}

// newReportCache layers the cache over the engine, adding the shared Redis
// tier when configured. The returned closer is never nil.
func (a *App) newReportCache(ctx context.Context, engine *anomaly.Engine) (*cache.ReportCache, *cache.RedisBackend, func()) {
	var opts []cache.Option
	var backend *cache.RedisBackend
	closer := func() {}

	if a.Config.Cache.Redis.Addr != "" {
		b, err := cache.NewRedisBackend(ctx, a.Config.Cache.Redis)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("shared report cache unavailable; using local cache only")
		} else {
			backend = b
			opts = append(opts, cache.WithBackend(b))
			closer = func() { _ = b.Close() }
		}
	}

	return cache.NewReportCache(engine, a.Config.Cache.TTL, a.Logger, opts...), backend, closer
}

// ReportOptions configure the report command.
type ReportOptions struct {
	Timeframe string
	JSON      bool
}

// ExportOptions hold parameters for exporting a report window.
type ExportOptions struct {
	Timeframe string
	PNGPath   string
	CSVPath   string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// IngestOptions configure the ingest job.
type IngestOptions struct {
	EventsPath string
	UsersPath  string
	DryRun     bool
}

// ServeOptions configure the HTTP server.
type ServeOptions struct {
	Watch bool
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Kind string
}
