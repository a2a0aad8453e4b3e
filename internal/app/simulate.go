package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/alerting"
	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/fingerprint"
	"reward-anomaly-engine/internal/watcher"
)

// SimulateAlert pushes a synthetic anomaly through the watcher and the
// configured notifier without touching the database.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	tf, err := anomaly.ParseTimeframe(a.Config.Watch.Timeframe)
	if err != nil {
		return fmt.Errorf("watch.timeframe: %w", err)
	}

	now := time.Now().UTC()
	report, err := syntheticReport(tf, opts.Kind, now)
	if err != nil {
		return err
	}

	w := watcher.New(a.Config, nil, staticReports{report: report}, nil, notifier, a.Logger)
	summary, err := w.Sweep(ctx, now)
	if err != nil {
		return err
	}
	if summary.Notified == 0 {
		return errors.New("simulated alert was not delivered; check the logs")
	}
	a.Logger.Info().Int("notified", summary.Notified).Str("kind", opts.Kind).Msg("simulated alert sent")
	return nil
}

func syntheticReport(tf anomaly.Timeframe, kind string, now time.Time) (*anomaly.Report, error) {
	report := &anomaly.Report{
		Timeframe:       tf,
		Since:           now.Add(-tf.Duration()),
		TopEarners:      []anomaly.TopEarner{},
		DuplicateHashes: []anomaly.DuplicateGroup{},
		Spikes:          []anomaly.SpikeRecord{},
	}

	switch kind {
	case alerting.KindSpike, "":
		report.Spikes = append(report.Spikes, anomaly.SpikeRecord{
			UserID:      "simulated-user",
			Username:    "simulated",
			DisplayName: "Simulated User",
			ActionDate:  now.Format("2006-01-02"),
			DailyCount:  50,
			DailyAmount: decimal.NewFromInt(50),
			Day:         now.Truncate(24 * time.Hour),
		})
	case alerting.KindDuplicate:
		text := "This is a simulated duplicate comment"
		fp, _ := fingerprint.Of("comment", text)
		report.DuplicateHashes = append(report.DuplicateHashes, anomaly.DuplicateGroup{
			Fingerprint:     fp,
			OccurrenceCount: 12,
			TotalAmount:     decimal.NewFromInt(12),
			SampleUserID:    "simulated-user",
			SampleExcerpt:   fingerprint.Excerpt(text),
		})
	default:
		return nil, fmt.Errorf("unknown alert kind %q (want %s or %s)", kind, alerting.KindSpike, alerting.KindDuplicate)
	}

	report.Stats = anomaly.Stats{TotalAmount: decimal.Zero}
	return report, nil
}

type staticReports struct {
	report *anomaly.Report
}

func (s staticReports) Report(context.Context, string) (*anomaly.Report, error) {
	return s.report, nil
}

var _ watcher.ReportSource = staticReports{}
