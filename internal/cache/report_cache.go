// Package cache serves anomaly reports from a short-lived, per-timeframe cache.
// Concurrent misses for one timeframe collapse into a single computation.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/metrics"
)

// Computer produces a fresh report for a timeframe tag.
type Computer interface {
	Report(ctx context.Context, tag string) (*anomaly.Report, error)
}

// Entry is a cached report together with the moment it was computed.
type Entry struct {
	Report   *anomaly.Report `json:"report"`
	StoredAt time.Time       `json:"stored_at"`
}

// Backend is an optional second tier shared between processes.
type Backend interface {
	Load(ctx context.Context, tf anomaly.Timeframe) (Entry, bool, error)
	Store(ctx context.Context, entry Entry, ttl time.Duration) error
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// ReportCache is safe for concurrent use. Entries are immutable; a refresh
// replaces the entry, it never edits one in place.
type ReportCache struct {
	computer Computer
	shared   Backend
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.RWMutex
	items map[anomaly.Timeframe]Entry

	group   singleflight.Group
	fmu     sync.Mutex
	flights map[anomaly.Timeframe]*flight
}

// Option customises a ReportCache.
type Option func(*ReportCache)

// WithBackend adds a shared tier consulted before computing.
func WithBackend(b Backend) Option {
	return func(c *ReportCache) { c.shared = b }
}

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *ReportCache) { c.now = now }
}

// NewReportCache wraps computer. A ttl of zero disables storage but keeps
// concurrent requests collapsed.
func NewReportCache(computer Computer, ttl time.Duration, logger zerolog.Logger, opts ...Option) *ReportCache {
	c := &ReportCache{
		computer: computer,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "report_cache").Logger(),
		items:    make(map[anomaly.Timeframe]Entry),
		flights:  make(map[anomaly.Timeframe]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report returns the cached report for tag or computes it. The tag is
// validated before any lookup.
func (c *ReportCache) Report(ctx context.Context, tag string) (*anomaly.Report, error) {
	tf, err := anomaly.ParseTimeframe(tag)
	if err != nil {
		return nil, err
	}

	if entry, ok := c.lookup(tf); ok {
		metrics.ReportCacheLookups.WithLabelValues("local", "hit").Inc()
		return entry.Report, nil
	}
	metrics.ReportCacheLookups.WithLabelValues("local", "miss").Inc()

	for attempt := 0; ; attempt++ {
		fl := c.join(ctx, tf)
		ch := c.group.DoChan(string(tf), func() (any, error) {
			return c.load(fl.ctx, tf)
		})

		select {
		case res := <-ch:
			c.leave(tf, fl)
			if res.Err != nil {
				// The flight was abandoned by every earlier waiter; start one more.
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && attempt == 0 {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*anomaly.Report), nil
		case <-ctx.Done():
			c.leave(tf, fl)
			return nil, ctx.Err()
		}
	}
}

// Invalidate drops the local entry for tf.
func (c *ReportCache) Invalidate(tf anomaly.Timeframe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, tf)
}

func (c *ReportCache) lookup(tf anomaly.Timeframe) (Entry, bool) {
	if c.ttl <= 0 {
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[tf]
	if !ok || !c.fresh(entry) {
		return Entry{}, false
	}
	return entry, true
}

func (c *ReportCache) fresh(entry Entry) bool {
	return c.now().Sub(entry.StoredAt) < c.ttl
}

func (c *ReportCache) store(tf anomaly.Timeframe, entry Entry) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tf] = entry
}

// load runs once per flight. Its context outlives any single caller and is
// cancelled only when nobody waits for the result.
func (c *ReportCache) load(ctx context.Context, tf anomaly.Timeframe) (*anomaly.Report, error) {
	if entry, ok := c.lookup(tf); ok {
		return entry.Report, nil
	}

	if c.shared != nil && c.ttl > 0 {
		entry, ok, err := c.shared.Load(ctx, tf)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("timeframe", string(tf)).Msg("shared cache read failed")
		case ok && entry.Report != nil && c.fresh(entry):
			metrics.ReportCacheLookups.WithLabelValues("shared", "hit").Inc()
			c.store(tf, entry)
			return entry.Report, nil
		default:
			metrics.ReportCacheLookups.WithLabelValues("shared", "miss").Inc()
		}
	}

	report, err := c.computer.Report(ctx, string(tf))
	if err != nil {
		return nil, err
	}

	entry := Entry{Report: report, StoredAt: c.now()}
	c.store(tf, entry)
	if c.shared != nil && c.ttl > 0 {
		if err := c.shared.Store(ctx, entry, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("timeframe", string(tf)).Msg("shared cache write failed")
		}
	}
	return report, nil
}

func (c *ReportCache) join(ctx context.Context, tf anomaly.Timeframe) *flight {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	fl, ok := c.flights[tf]
	if !ok {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: flightCtx, cancel: cancel}
		c.flights[tf] = fl
	}
	fl.waiters++
	return fl
}

func (c *ReportCache) leave(tf anomaly.Timeframe, fl *flight) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if c.flights[tf] == fl {
		delete(c.flights, tf)
	}
}

func (c *ReportCache) waiting(tf anomaly.Timeframe) int {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	if fl, ok := c.flights[tf]; ok {
		return fl.waiters
	}
	return 0
}
