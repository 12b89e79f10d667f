// Package cache implements a TTL-keyed in-memory cache with single-flight
// computation de-duplication. It is generic over the value type so the
// search layer stays the only place that knows about profiles.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/people-lookup/internal/metrics"
)

// DefaultTTL is the default entry lifetime.
const DefaultTTL = 30 * time.Minute

// Stats is a read-only snapshot for the admin view.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	ttl       time.Duration
}

func (e entry[V]) expiredAt(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Cache is a TTL cache guaranteeing at most one concurrent computation
// per key. Failed computations are handed to every waiter but never
// stored, so the next call re-attempts.
type Cache[V any] struct {
	ttl time.Duration
	met *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]entry[V]

	flight singleflight.Group

	hits   int64
	misses int64

	nowFunc func() time.Time
}

// New creates a cache with the given TTL. A non-positive ttl selects
// DefaultTTL. met may be nil.
func New[V any](ttl time.Duration, met *metrics.Metrics) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		ttl:     ttl,
		met:     met,
		entries: make(map[string]entry[V]),
		nowFunc: time.Now,
	}
}

// GetOrCompute returns the cached value for key, or runs compute to
// produce it. Concurrent callers for the same key share one computation.
// The returned bool reports whether the value came from the cache.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.lookup(key, true); ok {
		return v, true, nil
	}

	type result struct {
		value     V
		fromCache bool
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A waiter queued behind the flight that just stored may arrive
		// here after the store; serve the fresh entry instead of
		// recomputing.
		if v, ok := c.lookup(key, false); ok {
			return result{value: v, fromCache: true}, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return result{}, err
		}
		c.store(key, value)
		return result{value: value}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}

	r := v.(result)
	return r.value, r.fromCache, nil
}

// Invalidate drops the entry for key, if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.updateGauge()
}

// InvalidateAll drops every entry.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
	c.updateGauge()
}

// Stats returns current entry count and hit/miss counters. Expired but
// unswept entries are not counted.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.nowFunc()
	live := 0
	for _, e := range c.entries {
		if !e.expiredAt(now) {
			live++
		}
	}
	return Stats{Entries: live, Hits: c.hits, Misses: c.misses}
}

// Run sweeps expired entries on interval until ctx is cancelled. Lookups
// already check expiry; the sweep only bounds memory held by keys that
// are never queried again.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				zap.L().Debug("cache sweep", zap.Int("evicted", n))
			}
		}
	}
}

// lookup returns the live entry for key. record controls whether the
// outcome counts toward hit/miss stats; the post-flight recheck does not,
// so each logical request counts exactly once.
func (c *Cache[V]) lookup(key string, record bool) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.expiredAt(c.nowFunc()) {
		if record {
			c.mu.Lock()
			c.hits++
			c.mu.Unlock()
			if c.met != nil {
				c.met.CacheHits.Inc()
			}
		}
		return e.value, true
	}

	c.mu.Lock()
	if record {
		c.misses++
	}
	if ok {
		// Expired entries are dropped on first post-expiry touch.
		delete(c.entries, key)
		c.updateGauge()
	}
	c.mu.Unlock()
	if record && c.met != nil {
		c.met.CacheMisses.Inc()
	}

	var zero V
	return zero, false
}

func (c *Cache[V]) store(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, createdAt: c.nowFunc(), ttl: c.ttl}
	c.updateGauge()
}

func (c *Cache[V]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	evicted := 0
	for key, e := range c.entries {
		if e.expiredAt(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		c.updateGauge()
	}
	return evicted
}

// updateGauge must be called with mu held.
func (c *Cache[V]) updateGauge() {
	if c.met != nil {
		c.met.CacheEntries.Set(float64(len(c.entries)))
	}
}
