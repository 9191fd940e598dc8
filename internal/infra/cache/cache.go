// Package cache provides the process-wide TTL cache that read paths go
// through before touching the backing store.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/metrics"
)

type entry struct {
	data      any
	timestamp time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) >= e.ttl
}

// Cache is a key/value store with per-entry TTL. Values are handed out as
// stored; callers must treat them as read-only.
type Cache struct {
	clock clock.Clock

	mu         sync.RWMutex
	entries    map[string]entry
	generation uint64

	flights singleflight.Group
}

// New creates an empty cache.
func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		clock:   clk,
		entries: make(map[string]entry),
	}
}

// Get returns the value for key if present and fresh. Expired entries are
// evicted on the way out; callers cannot tell expired from never set.
func (c *Cache) Get(key string) (any, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if e.expired(now) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && cur.expired(now) {
			delete(c.entries, key)
			metrics.CacheEvictions.WithLabelValues("expired").Inc()
		}
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.data, true
}

// Set stores value under key, overwriting any previous entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{data: value, timestamp: c.clock.Now(), ttl: ttl}
	c.mu.Unlock()
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		metrics.CacheEvictions.WithLabelValues("invalidated").Inc()
	}
}

// InvalidatePattern removes every key matching re and returns how many
// entries were removed.
func (c *Cache) InvalidatePattern(re *regexp.Regexp) int {
	return c.invalidateWhere(re.MatchString)
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) int {
	return c.invalidateWhere(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

func (c *Cache) invalidateWhere(match func(string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	removed := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("invalidated").Add(float64(removed))
	}
	return removed
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.invalidateWhere(func(string) bool { return true })
}

// Cleanup sweeps expired entries. Lazy expiry in Get is enough for
// correctness; Cleanup only bounds memory.
func (c *Cache) Cleanup() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the stored keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// setIfGeneration stores value only when no invalidation happened since gen
// was read, so a fetch that raced with a write cannot repopulate stale data.
func (c *Cache) setIfGeneration(gen uint64, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.entries[key] = entry{data: value, timestamp: c.clock.Now(), ttl: ttl}
}

// WithCache returns the cached value for key, or calls fetch, stores its
// result and returns it. Concurrent misses for the same key share a single
// fetch. A fetch error is returned as is and nothing is cached.
func WithCache[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		// Same key reused with a different type; treat as a miss.
		c.Invalidate(key)
	}

	gen := c.currentGeneration()
	flightKey := fmt.Sprintf("%s#%d", key, gen)
	// The shared fetch outlives any single caller: each caller stops
	// waiting when its own ctx ends, the fetch keeps going for the rest.
	results := c.flights.DoChan(flightKey, func() (any, error) {
		out, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.setIfGeneration(gen, key, out, ttl)
		return out, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
