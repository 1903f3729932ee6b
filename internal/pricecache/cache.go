// Package pricecache keeps the latest spot price for every supported symbol.
//
// Readers get a point-in-time copy of the whole map. A refresh builds a new
// map and swaps it in with one atomic store, so no reader ever sees a
// half-written set of prices. When the provider fails the previous map stays
// in place (stale-but-available) and the failure is only logged. Callers that
// must not act on an old price use FreshPrice instead.
package pricecache

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fakecrypto/game-engine/internal/config"
	"github.com/fakecrypto/game-engine/internal/metrics"
)

// Provider is a batched spot-price source keyed by provider id.
type Provider interface {
	FetchPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

type snapshot struct {
	prices      map[string]float64   // ticker -> USD, never mutated after publish
	updated     map[string]time.Time // ticker -> when the provider last returned it
	refreshedAt time.Time            // zero until the first successful refresh
}

// Cache is safe for concurrent use.
type Cache struct {
	provider  Provider
	symbols   []config.Symbol
	freshness time.Duration
	now       func() time.Time
	log       *slog.Logger

	snap  atomic.Pointer[snapshot]
	group singleflight.Group
}

// New creates an empty cache. The first read triggers a fetch.
func New(provider Provider, symbols []config.Symbol, freshness time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		provider:  provider,
		symbols:   symbols,
		freshness: freshness,
		now:       time.Now,
		log:       logger,
	}
	c.snap.Store(&snapshot{prices: map[string]float64{}, updated: map[string]time.Time{}})
	return c
}

// Prices returns every known price. When the cache is older than the
// freshness window it refreshes first; a failed refresh returns what was
// already cached, possibly nothing.
func (c *Cache) Prices(ctx context.Context) map[string]float64 {
	s := c.snap.Load()
	if !s.refreshedAt.IsZero() && c.now().Sub(s.refreshedAt) < c.freshness {
		return maps.Clone(s.prices)
	}
	c.refresh(ctx)
	return maps.Clone(c.snap.Load().prices)
}

// Price returns the price of one ticker, refreshing as Prices does.
func (c *Cache) Price(ctx context.Context, ticker string) (float64, bool) {
	p, ok := c.Prices(ctx)[ticker]
	return p, ok
}

// FreshPrice returns the ticker's price only if the provider returned it
// within the freshness window, refreshing once when it did not. A failed
// refresh, or a response that left the ticker out, reports false even
// though an older price may still be cached.
func (c *Cache) FreshPrice(ctx context.Context, ticker string) (float64, bool) {
	if p, ok := c.fresh(ticker); ok {
		return p, true
	}
	if !c.refresh(ctx) {
		return 0, false
	}
	return c.fresh(ticker)
}

func (c *Cache) fresh(ticker string) (float64, bool) {
	s := c.snap.Load()
	at, ok := s.updated[ticker]
	if !ok || c.now().Sub(at) >= c.freshness {
		return 0, false
	}
	return s.prices[ticker], true
}

// Refresh fetches regardless of freshness. It reports whether the
// provider call succeeded.
func (c *Cache) Refresh(ctx context.Context) bool {
	return c.refresh(ctx)
}

// Cached returns the current map and its refresh time without contacting
// the provider.
func (c *Cache) Cached() (map[string]float64, time.Time) {
	s := c.snap.Load()
	return maps.Clone(s.prices), s.refreshedAt
}

// refresh collapses concurrent callers onto one provider request.
func (c *Cache) refresh(ctx context.Context) bool {
	v, _, _ := c.group.Do("refresh", func() (any, error) {
		return c.fetch(ctx), nil
	})
	return v.(bool)
}

func (c *Cache) fetch(ctx context.Context) bool {
	ids := make([]string, len(c.symbols))
	tickerByID := make(map[string]string, len(c.symbols))
	for i, s := range c.symbols {
		ids[i] = s.ProviderID
		tickerByID[s.ProviderID] = s.Ticker
	}

	start := time.Now()
	fetched, err := c.provider.FetchPrices(ctx, ids)
	metrics.PriceRefreshLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PriceRefreshes.WithLabelValues("error").Inc()
		c.log.Warn("price refresh failed, serving cached prices", "err", err, "cached", len(c.snap.Load().prices))
		return false
	}

	prev := c.snap.Load()
	now := c.now()
	next := &snapshot{
		prices:      maps.Clone(prev.prices),
		updated:     maps.Clone(prev.updated),
		refreshedAt: now,
	}
	for id, price := range fetched {
		if ticker, ok := tickerByID[id]; ok {
			next.prices[ticker] = price
			next.updated[ticker] = now
		}
	}
	c.snap.Store(next)

	metrics.PriceRefreshes.WithLabelValues("ok").Inc()
	metrics.CachedSymbols.Set(float64(len(next.prices)))
	c.log.Debug("prices updated", "symbols", len(fetched))
	return true
}
