package anomaly

import (
	"context"
	"errors"
)

var (
	// ErrInvalidTimeframe is returned for any tag other than 24h, 7d or 30d.
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	// ErrInvalidConfiguration is returned when thresholds or bounds are missing
	// or non-positive. It is fatal to the request and not retried.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrStoreUnavailable is returned when the reward store cannot be read.
	ErrStoreUnavailable = errors.New("reward store unavailable")

	// ErrStoreTimeout is returned when the snapshot read exceeds its deadline.
	ErrStoreTimeout = errors.New("reward store timed out")

	// ErrPermissionDenied is returned when the caller may not read reports.
	ErrPermissionDenied = errors.New("permission denied")
)

// Retryable reports whether the caller may retry the request with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStoreTimeout)
}

// Detail renders a caller-facing message that never includes internal state.
func Detail(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTimeframe):
		return "timeframe must be one of 24h, 7d, 30d"
	case errors.Is(err, ErrPermissionDenied):
		return "you do not have permission to view reward anomalies"
	case errors.Is(err, ErrInvalidConfiguration):
		return "anomaly detection is misconfigured; contact an operator"
	case errors.Is(err, ErrStoreTimeout), errors.Is(err, context.DeadlineExceeded):
		return "reward data took too long to load; try again shortly"
	case errors.Is(err, ErrStoreUnavailable):
		return "reward data is temporarily unavailable; try again shortly"
	case errors.Is(err, context.Canceled):
		return "request was cancelled"
	default:
		return "failed to compute anomaly report"
	}
}
