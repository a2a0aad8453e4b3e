// Package watcher periodically computes an anomaly report and pushes newly
// seen spikes and duplicate groups to operators.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reward-anomaly-engine/internal/alerting"
	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/config"
	"reward-anomaly-engine/internal/metrics"
	"reward-anomaly-engine/internal/scheduler"
	"reward-anomaly-engine/internal/storage"
)

// ReportSource yields anomaly reports, usually the shared report cache.
type ReportSource interface {
	Report(ctx context.Context, tag string) (*anomaly.Report, error)
}

// Summary describes one sweep.
type Summary struct {
	Timeframe  anomaly.Timeframe
	Spikes     int
	Duplicates int
	NewAlerts  int
	Notified   int
	Pruned     int64
	Skipped    bool
}

// Watcher orchestrates report sweeps, alert de-duplication and dispatch.
type Watcher struct {
	scheduler  *scheduler.Scheduler
	reports    ReportSource
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	timeframe string
	channels  []string
	alertsOn  bool
	retention time.Duration
	lockKey   int64
}

// New constructs the watcher. alertStore may be nil, in which case every
// sweep treats all anomalies as new.
func New(cfg *config.Config, sched *scheduler.Scheduler, reports ReportSource, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Watcher {
	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Watcher{
		scheduler:  sched,
		reports:    reports,
		alertStore: alertStore,
		notifier:   notifier,
		locker:     locker,
		logger:     logger.With().Str("component", "watcher").Logger(),
		timeframe:  cfg.Watch.Timeframe,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		retention:  cfg.Alerting.Retention,
		lockKey:    cfg.Watch.AdvisoryLockKey,
	}
}

// Run begins the sweep loop.
func (w *Watcher) Run(ctx context.Context) error {
	if w.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return w.scheduler.Run(ctx, func(ctx context.Context, tick time.Time) error {
		_, err := w.Sweep(ctx, tick)
		return err
	})
}

// Sweep runs one detection pass unless another replica holds the lock.
func (w *Watcher) Sweep(ctx context.Context, tick time.Time) (Summary, error) {
	unlock, proceed, err := w.acquireLock(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !proceed {
		w.logger.Debug().Time("tick", tick).Msg("skip sweep because advisory lock held elsewhere")
		return Summary{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return w.executeSweep(ctx, tick)
}

func (w *Watcher) executeSweep(ctx context.Context, tick time.Time) (Summary, error) {
	report, err := w.reports.Report(ctx, w.timeframe)
	if err != nil {
		return Summary{}, fmt.Errorf("compute report: %w", err)
	}

	summary := Summary{
		Timeframe:  report.Timeframe,
		Spikes:     len(report.Spikes),
		Duplicates: len(report.DuplicateHashes),
	}

	notes := make([]alerting.Notification, 0, len(report.Spikes)+len(report.DuplicateHashes))
	for _, rec := range report.Spikes {
		notes = append(notes, alerting.SpikeNotification(report.Timeframe, rec, tick))
	}
	for _, group := range report.DuplicateHashes {
		notes = append(notes, alerting.DuplicateNotification(report.Timeframe, group, tick))
	}

	for _, note := range notes {
		note.Channels = w.channels
		created, err := w.record(ctx, note)
		if err != nil {
			w.logger.Error().Err(err).Str("key", note.Key).Msg("failed to persist alert record")
			continue
		}
		if !created {
			continue
		}
		summary.NewAlerts++
		metrics.AlertsDispatched.WithLabelValues(note.Kind).Inc()

		if !w.alertsOn || w.notifier == nil {
			continue
		}
		if err := w.notifier.Notify(ctx, note); err != nil {
			w.logger.Error().Err(err).Str("key", note.Key).Msg("failed to dispatch alert")
			continue
		}
		summary.Notified++
	}

	if w.alertStore != nil && w.retention > 0 {
		pruned, err := w.alertStore.DeleteAlertsBefore(ctx, tick.Add(-w.retention))
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to prune alert history")
		}
		summary.Pruned = pruned
	}

	w.logger.Info().Time("tick", tick).
		Str("timeframe", string(summary.Timeframe)).
		Int("spikes", summary.Spikes).
		Int("duplicates", summary.Duplicates).
		Int("new_alerts", summary.NewAlerts).
		Int("notified", summary.Notified).
		Int64("pruned", summary.Pruned).
		Msg("sweep completed")
	return summary, nil
}

func (w *Watcher) record(ctx context.Context, note alerting.Notification) (bool, error) {
	if w.alertStore == nil {
		return true, nil
	}

	var subject any = note.Spike
	if note.Duplicate != nil {
		subject = note.Duplicate
	}
	payload, err := json.Marshal(subject)
	if err != nil {
		return false, fmt.Errorf("marshal alert payload: %w", err)
	}

	_, created, err := w.alertStore.InsertAlert(ctx, storage.AlertRecord{
		AlertKey:  note.Key,
		Kind:      note.Kind,
		Timeframe: string(note.Timeframe),
		Payload:   payload,
	})
	return created, err
}

func (w *Watcher) acquireLock(ctx context.Context) (func(), bool, error) {
	if w.lockKey == 0 || w.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := w.locker.TryAdvisoryLock(ctx, w.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
