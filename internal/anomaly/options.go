package anomaly

import (
	"fmt"
	"time"
)

// SpikeSettings configure the velocity detector. Both values are required.
type SpikeSettings struct {
	CountThreshold int
	Multiplier     float64
}

// Validate rejects missing or non-positive thresholds.
func (s SpikeSettings) Validate() error {
	if s.CountThreshold <= 0 {
		return fmt.Errorf("%w: spike.count_threshold must be set and greater than zero", ErrInvalidConfiguration)
	}
	if s.Multiplier <= 0 {
		return fmt.Errorf("%w: spike.multiplier must be set and greater than zero", ErrInvalidConfiguration)
	}
	return nil
}

// RankingSettings configure the top earner list.
type RankingSettings struct {
	TopN          int
	ConfirmedOnly bool
}

// Validate rejects a non-positive bound.
func (r RankingSettings) Validate() error {
	if r.TopN <= 0 {
		return fmt.Errorf("%w: ranking.top_n must be greater than zero", ErrInvalidConfiguration)
	}
	return nil
}

// Options parameterise the engine.
type Options struct {
	Spike   SpikeSettings
	Ranking RankingSettings

	// Location defines calendar days for spike buckets. Nil means UTC.
	Location *time.Location

	// StoreTimeout bounds each snapshot read attempt.
	StoreTimeout time.Duration
	// RetryBackoff is the pause before the single retry of a failed read.
	RetryBackoff time.Duration

	// Now is the engine clock. Nil means time.Now.
	Now func() time.Time
}

// Validate checks every setting the analyses depend on.
func (o Options) Validate() error {
	if err := o.Spike.Validate(); err != nil {
		return err
	}
	if err := o.Ranking.Validate(); err != nil {
		return err
	}
	if o.StoreTimeout <= 0 {
		return fmt.Errorf("%w: store timeout must be greater than zero", ErrInvalidConfiguration)
	}
	return nil
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}
