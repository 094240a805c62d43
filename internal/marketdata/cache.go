// Package marketdata serves a fresh-enough market snapshot without hammering
// venue rate limits. One cache instance is shared by the screener and the
// trade executor.
package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// refreshKey is the single-flight key; there is only ever one refresh cycle.
const refreshKey = "refresh"

// Cache holds the latest MarketSnapshot and refreshes it from both venue
// adapters once its TTL has elapsed. Concurrent callers during a refresh
// share the in-flight result instead of issuing their own remote fetches.
type Cache struct {
	venueA domain.VenueAdapter
	venueB domain.VenueAdapter
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	sink   domain.EventSink

	group singleflight.Group

	mu       sync.RWMutex
	snapshot *domain.MarketSnapshot
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock injects the time source. Tests use this to drive TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithEventSink publishes a "snapshot_refreshed" event after each refresh.
func WithEventSink(sink domain.EventSink) Option {
	return func(c *Cache) { c.sink = sink }
}

// NewCache creates a Cache over the two venue adapters. ttl bounds snapshot
// age; a non-positive ttl falls back to 60 seconds.
func NewCache(venueA, venueB domain.VenueAdapter, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	c := &Cache{
		venueA: venueA,
		venueB: venueB,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "market_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the cached snapshot when it is younger than the TTL and
// refreshes it otherwise. Refresh failures never surface here; a venue that
// fails contributes an empty section with its error string.
func (c *Cache) Snapshot(ctx context.Context) domain.MarketSnapshot {
	if snap, ok := c.fresh(); ok {
		return snap
	}

	v, _, _ := c.group.Do(refreshKey, func() (any, error) {
		// Re-check freshness: a waiter queued behind a finished refresh must
		// not trigger a second one.
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
		return c.refresh(ctx), nil
	})
	return v.(domain.MarketSnapshot)
}

// Refresh forces a fetch regardless of TTL. Used by the background warmer.
func (c *Cache) Refresh(ctx context.Context) domain.MarketSnapshot {
	v, _, _ := c.group.Do(refreshKey, func() (any, error) {
		return c.refresh(ctx), nil
	})
	return v.(domain.MarketSnapshot)
}

func (c *Cache) fresh() (domain.MarketSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return domain.MarketSnapshot{}, false
	}
	if c.now().Sub(c.snapshot.CapturedAt) >= c.ttl {
		return domain.MarketSnapshot{}, false
	}
	return *c.snapshot, true
}

// refresh fetches both venues concurrently and atomically replaces the
// stored snapshot. Per-venue failure is captured in that venue's section so
// one venue outage does not blank the other's data.
func (c *Cache) refresh(ctx context.Context) domain.MarketSnapshot {
	start := c.now()
	snap := domain.MarketSnapshot{CapturedAt: start}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.VenueA = c.fetchSection(gctx, c.venueA)
		return nil
	})
	g.Go(func() error {
		snap.VenueB = c.fetchSection(gctx, c.venueB)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	c.snapshot = &snap
	c.mu.Unlock()

	c.logger.Info("snapshot refreshed",
		slog.String("venue_a", snap.VenueA.Venue),
		slog.Int("venue_a_symbols", snap.VenueA.Count()),
		slog.String("venue_a_error", snap.VenueA.Err),
		slog.String("venue_b", snap.VenueB.Venue),
		slog.Int("venue_b_symbols", snap.VenueB.Count()),
		slog.String("venue_b_error", snap.VenueB.Err),
		slog.Duration("took", c.now().Sub(start)),
	)
	if c.sink != nil {
		c.sink.Publish("snapshot_refreshed", map[string]any{
			"venue_a_symbols": snap.VenueA.Count(),
			"venue_b_symbols": snap.VenueB.Count(),
			"captured_at":     snap.CapturedAt,
		})
	}
	return snap
}

func (c *Cache) fetchSection(ctx context.Context, adapter domain.VenueAdapter) domain.VenueSection {
	section := domain.VenueSection{Venue: adapter.Name()}
	instruments, err := adapter.FundingSnapshot(ctx)
	if err != nil {
		c.logger.Warn("venue fetch failed",
			slog.String("venue", adapter.Name()),
			slog.String("error", err.Error()),
		)
		section.Err = err.Error()
		return section
	}
	section.Instruments = instruments
	return section
}
