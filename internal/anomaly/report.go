package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"reward-anomaly-engine/internal/metrics"
	"reward-anomaly-engine/internal/storage"
)

// Report is the read-only result of one timeframe query. Callers must not
// mutate it; cached reports are shared between requests.
type Report struct {
	Timeframe       Timeframe        `json:"timeframe"`
	Since           time.Time        `json:"since"`
	Stats           Stats            `json:"stats"`
	TopEarners      []TopEarner      `json:"top_earners"`
	DuplicateHashes []DuplicateGroup `json:"duplicate_hashes"`
	Spikes          []SpikeRecord    `json:"spikes"`
}

// Until returns the exclusive end of the report window.
func (r *Report) Until() time.Time {
	return r.Since.Add(r.Timeframe.Duration())
}

// Source reads a consistent snapshot of the reward store.
type Source interface {
	ReadSnapshot(ctx context.Context, since, until time.Time) (storage.Snapshot, error)
}

// Engine computes anomaly reports against a Source.
type Engine struct {
	source Source
	opts   Options
	logger zerolog.Logger
}

// NewEngine constructs an engine. Options are validated per request so a
// misconfigured deployment fails requests with ErrInvalidConfiguration.
func NewEngine(source Source, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Report resolves the timeframe, reads one snapshot, and assembles the report.
// Any failure fails the whole report.
func (e *Engine) Report(ctx context.Context, tag string) (*Report, error) {
	window, snap, err := e.Snapshot(ctx, tag)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := Assemble(window, snap, e.opts)
	metrics.ReportComputations.WithLabelValues(string(window.Timeframe), metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("timeframe", string(window.Timeframe)).
		Int("events", report.Stats.TotalActions).
		Int("duplicates", len(report.DuplicateHashes)).
		Int("spikes", len(report.Spikes)).
		Msg("report assembled")
	return report, nil
}

// Snapshot validates the request and reads the events of its window. Events
// outside the window are dropped, so every analysis sees only [since, until).
func (e *Engine) Snapshot(ctx context.Context, tag string) (Window, storage.Snapshot, error) {
	window, err := ResolveWindow(tag, e.opts.now())
	if err != nil {
		return Window{}, storage.Snapshot{}, err
	}
	if err := e.opts.Validate(); err != nil {
		return Window{}, storage.Snapshot{}, err
	}
	if e.source == nil {
		return Window{}, storage.Snapshot{}, fmt.Errorf("%w: no reward store configured", ErrStoreUnavailable)
	}

	snap, err := e.readSnapshot(ctx, window)
	if err != nil {
		return Window{}, storage.Snapshot{}, err
	}

	inWindow := snap.Events[:0:0]
	for _, ev := range snap.Events {
		if window.Contains(ev.OccurredAt) {
			inWindow = append(inWindow, ev)
		}
	}
	if dropped := len(snap.Events) - len(inWindow); dropped > 0 {
		e.logger.Warn().Int("dropped", dropped).Str("timeframe", string(window.Timeframe)).Msg("store returned events outside the window")
	}
	snap.Events = inWindow
	return window, snap, nil
}

func (e *Engine) readSnapshot(ctx context.Context, window Window) (storage.Snapshot, error) {
	snap, err := e.readOnce(ctx, window)
	if err == nil || !Retryable(err) || ctx.Err() != nil {
		return snap, err
	}

	metrics.SnapshotRetries.Inc()
	e.logger.Warn().Err(err).Str("timeframe", string(window.Timeframe)).Msg("snapshot read failed; retrying once")

	if e.opts.RetryBackoff > 0 {
		timer := time.NewTimer(e.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return storage.Snapshot{}, classifyStoreError(ctx.Err())
		case <-timer.C:
		}
	}
	return e.readOnce(ctx, window)
}

func (e *Engine) readOnce(ctx context.Context, window Window) (storage.Snapshot, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	snap, err := e.source.ReadSnapshot(attemptCtx, window.Since, window.Until)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return storage.Snapshot{}, fmt.Errorf("%w: read exceeded %s", ErrStoreTimeout, e.opts.StoreTimeout)
		}
		return storage.Snapshot{}, classifyStoreError(err)
	}
	return snap, nil
}

func classifyStoreError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// Assemble runs the four analyses over one snapshot. They run in parallel and
// write disjoint fields; the result is identical to running them in sequence.
func Assemble(window Window, snap storage.Snapshot, opts Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		Timeframe: window.Timeframe,
		Since:     window.Since,
	}

	var g errgroup.Group
	g.Go(func() error {
		report.Stats = Aggregate(snap.Events)
		return nil
	})
	g.Go(func() error {
		report.DuplicateHashes = DetectDuplicates(snap.Events)
		return nil
	})
	g.Go(func() error {
		detector, err := NewSpikeDetector(opts.Spike, opts.location())
		if err != nil {
			return err
		}
		report.Spikes = detector.Detect(snap.Events, snap.Profiles)
		return nil
	})
	g.Go(func() error {
		report.TopEarners = RankEarners(snap.Events, snap.Profiles, opts.Ranking)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}
