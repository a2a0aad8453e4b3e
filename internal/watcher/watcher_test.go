package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"reward-anomaly-engine/internal/alerting"
	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/config"
	"reward-anomaly-engine/internal/storage"
)

type stubReports struct {
	report *anomaly.Report
	err    error
	tags   []string
}

func (s *stubReports) Report(_ context.Context, tag string) (*anomaly.Report, error) {
	s.tags = append(s.tags, tag)
	return s.report, s.err
}

type memoryAlerts struct {
	mu       sync.Mutex
	byKey    map[string]storage.AlertRecord
	prunedAt time.Time

	lockHeld bool
	locked   int
	unlocked int
}

func newMemoryAlerts() *memoryAlerts {
	return &memoryAlerts{byKey: make(map[string]storage.AlertRecord)}
}

func (m *memoryAlerts) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byKey[alert.AlertKey]; ok {
		return existing, false, nil
	}
	alert.ID = int64(len(m.byKey) + 1)
	m.byKey[alert.AlertKey] = alert
	return alert, true, nil
}

func (m *memoryAlerts) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (m *memoryAlerts) DeleteAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.prunedAt = olderThan
	return 0, nil
}

func (m *memoryAlerts) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if m.lockHeld {
		return nil, false, nil
	}
	m.locked++
	return func() { m.unlocked++ }, true, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return r.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Watch.Timeframe = "24h"
	cfg.Watch.AdvisoryLockKey = 42
	cfg.Alerting.Enabled = true
	cfg.Alerting.Retention = 720 * time.Hour
	cfg.Alerting.Channels = []string{"ops"}
	return cfg
}

func sampleReport() *anomaly.Report {
	return &anomaly.Report{
		Timeframe: anomaly.Timeframe24h,
		Spikes: []anomaly.SpikeRecord{
			{UserID: "u1", ActionDate: "2026-03-10", DailyCount: 50, DailyAmount: decimal.NewFromInt(50)},
		},
		DuplicateHashes: []anomaly.DuplicateGroup{
			{Fingerprint: "abc", OccurrenceCount: 3, TotalAmount: decimal.NewFromInt(3), SampleUserID: "u2"},
		},
	}
}

func TestSweepNotifiesOnlyNewAnomalies(t *testing.T) {
	reports := &stubReports{report: sampleReport()}
	alerts := newMemoryAlerts()
	notifier := &recordingNotifier{}
	w := New(testConfig(), nil, reports, alerts, notifier, zerolog.Nop())

	tick := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	summary, err := w.Sweep(context.Background(), tick)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Spikes)
	require.Equal(t, 1, summary.Duplicates)
	require.Equal(t, 2, summary.NewAlerts)
	require.Equal(t, 2, summary.Notified)
	require.Equal(t, []string{"24h"}, reports.tags)

	require.Len(t, notifier.notes, 2)
	require.Equal(t, "spike:u1:2026-03-10", notifier.notes[0].Key)
	require.Equal(t, "duplicate:abc", notifier.notes[1].Key)
	require.Equal(t, []string{"ops"}, notifier.notes[0].Channels)
	require.Contains(t, string(alerts.byKey["duplicate:abc"].Payload), `"hash":"abc"`)

	summary, err = w.Sweep(context.Background(), tick.Add(15*time.Minute))
	require.NoError(t, err)
	require.Zero(t, summary.NewAlerts)
	require.Len(t, notifier.notes, 2)

	require.Equal(t, tick.Add(15*time.Minute).Add(-720*time.Hour), alerts.prunedAt)
	require.Equal(t, 2, alerts.locked)
	require.Equal(t, 2, alerts.unlocked)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	reports := &stubReports{report: sampleReport()}
	alerts := newMemoryAlerts()
	alerts.lockHeld = true
	w := New(testConfig(), nil, reports, alerts, &recordingNotifier{}, zerolog.Nop())

	summary, err := w.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.True(t, summary.Skipped)
	require.Empty(t, reports.tags)
}

func TestSweepRecordsWithoutNotifyingWhenAlertingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	alerts := newMemoryAlerts()
	notifier := &recordingNotifier{}
	w := New(cfg, nil, &stubReports{report: sampleReport()}, alerts, notifier, zerolog.Nop())

	summary, err := w.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, summary.NewAlerts)
	require.Zero(t, summary.Notified)
	require.Empty(t, notifier.notes)
	require.Len(t, alerts.byKey, 2)
}

func TestSweepNotifierFailureIsNotFatal(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	w := New(testConfig(), nil, &stubReports{report: sampleReport()}, newMemoryAlerts(), notifier, zerolog.Nop())

	summary, err := w.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, summary.NewAlerts)
	require.Zero(t, summary.Notified)
}

func TestSweepPropagatesReportErrors(t *testing.T) {
	reports := &stubReports{err: anomaly.ErrStoreTimeout}
	w := New(testConfig(), nil, reports, nil, nil, zerolog.Nop())

	_, err := w.Sweep(context.Background(), time.Now())
	require.ErrorIs(t, err, anomaly.ErrStoreTimeout)
}

func TestRunRequiresScheduler(t *testing.T) {
	w := New(testConfig(), nil, &stubReports{}, nil, nil, zerolog.Nop())
	require.Error(t, w.Run(context.Background()))
}
