package anomaly

import (
	"fmt"
	"time"
)

// Timeframe is a report window tag.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe24h: 24 * time.Hour,
	Timeframe7d:  7 * 24 * time.Hour,
	Timeframe30d: 30 * 24 * time.Hour,
}

// Timeframes lists the accepted tags, shortest first.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe24h, Timeframe7d, Timeframe30d}
}

// ParseTimeframe validates a raw tag. The accepted set is closed.
func ParseTimeframe(tag string) (Timeframe, error) {
	tf := Timeframe(tag)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, tag)
	}
	return tf, nil
}

// Duration returns the window length, or zero for an unknown tag.
func (t Timeframe) Duration() time.Duration {
	return timeframeDurations[t]
}

func (t Timeframe) String() string { return string(t) }

// Window is the half-open interval [Since, Until) a report covers.
type Window struct {
	Timeframe Timeframe
	Since     time.Time
	Until     time.Time
}

// ResolveWindow maps a tag to the window ending at now.
func ResolveWindow(tag string, now time.Time) (Window, error) {
	tf, err := ParseTimeframe(tag)
	if err != nil {
		return Window{}, err
	}
	until := now.UTC()
	return Window{
		Timeframe: tf,
		Since:     until.Add(-tf.Duration()),
		Until:     until,
	}, nil
}

// Contains reports whether t falls inside [Since, Until).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}
