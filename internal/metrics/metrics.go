package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportCacheLookups counts report cache lookups by tier and result.
	ReportCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewardwatch",
		Name:      "report_cache_lookups_total",
		Help:      "Report cache lookups partitioned by tier (local, shared) and result (hit, miss).",
	}, []string{"tier", "result"})

	// ReportComputations observes full report computations.
	ReportComputations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rewardwatch",
		Name:      "report_computation_seconds",
		Help:      "Time spent computing an anomaly report, by timeframe and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"timeframe", "outcome"})

	// SnapshotRetries counts snapshot reads that needed the retry.
	SnapshotRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rewardwatch",
		Name:      "snapshot_retries_total",
		Help:      "Snapshot reads retried after a transient store failure.",
	})

	// AlertsDispatched counts anomalies pushed to operators by kind.
	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rewardwatch",
		Name:      "alerts_dispatched_total",
		Help:      "Anomaly alerts recorded and dispatched, by kind.",
	}, []string{"kind"})
)

// Outcome labels a computation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
