// Package cache provides a generic in-memory TTL cache with single-flight
// computation.
//
// Entries expire strictly at creation time plus their TTL; reads never extend
// an entry's life. Concurrent misses for one key share a single computation,
// while unrelated keys never wait on each other. Failed computations are not
// cached.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/star/satpass/internal/metrics"
)

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// entry is an immutable cached value. Replacement stores a new entry.
type entry[V any] struct {
	value     V
	createdAt time.Time
	ttl       time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return !now.Before(e.createdAt.Add(e.ttl))
}

// Cache is a TTL cache of V keyed by string. Safe for concurrent use.
type Cache[V any] struct {
	name   string
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry[V]
	// inflight maps a key to the token of the computation allowed to store
	// its result. Invalidation revokes the token.
	inflight map[string]uint64
	seq      uint64

	group singleflight.Group

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	joins     atomic.Int64
	evictions atomic.Int64
}

// New creates a cache. name labels its metrics and logs.
func New[V any](name string, clock Clock, logger *slog.Logger) *Cache[V] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache[V]{
		name:     name,
		clock:    clock,
		logger:   logger.With("cache", name),
		entries:  make(map[string]entry[V]),
		inflight: make(map[string]uint64),
	}
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.name }

// Key joins an operation name and its arguments into a cache key,
// e.g. Key("elements", 25544) is "elements:25544".
func Key(op string, args ...any) string {
	var b strings.Builder
	b.WriteString(op)
	for _, a := range args {
		b.WriteByte(':')
		fmt.Fprint(&b, a)
	}
	return b.String()
}

// Get returns the unexpired value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

func (c *Cache[V]) lookupLocked(key string) (V, bool) {
	e, ok := c.entries[key]
	if !ok || e.expired(c.clock.Now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores v under key for ttl, replacing any existing entry.
// A non-positive ttl stores nothing.
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, createdAt: c.clock.Now(), ttl: ttl}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.SetCacheEntries(c.name, n)
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result for ttl. Concurrent callers for the same key share one compute;
// each waits only as long as its own ctx allows. The compute runs on a
// context detached from the first caller's cancellation so that a departing
// caller does not fail the others.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		metrics.IncCache(c.name, "hit")
		return v, nil
	}
	c.misses.Add(1)
	metrics.IncCache(c.name, "miss")

	detached := context.WithoutCancel(ctx)
	led := false
	ch := c.group.DoChan(key, func() (any, error) {
		led = true
		c.mu.Lock()
		// A flight that finished between our miss and this call already
		// stored a fresh value.
		if v, ok := c.lookupLocked(key); ok {
			c.mu.Unlock()
			return v, nil
		}
		c.seq++
		token := c.seq
		c.inflight[key] = token
		c.mu.Unlock()

		v, err := compute(detached)

		c.mu.Lock()
		tok, tracked := c.inflight[key]
		current := tracked && tok == token
		if current || (tracked && tok == 0) {
			delete(c.inflight, key)
		}
		if current && err == nil && ttl > 0 {
			c.entries[key] = entry[V]{value: v, createdAt: c.clock.Now(), ttl: ttl}
		}
		n := len(c.entries)
		c.mu.Unlock()

		if !current {
			c.logger.Debug("discarding result invalidated during compute", "key", key)
		}
		metrics.SetCacheEntries(c.name, n)
		return v, err
	})

	select {
	case r := <-ch:
		if r.Shared && !led {
			c.joins.Add(1)
			metrics.IncCache(c.name, "join")
		}
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Invalidate removes key. A computation for key already in flight still
// answers its waiters but does not store its result.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.revokeLocked(key)
	n := len(c.entries)
	c.mu.Unlock()

	if ok {
		c.evictions.Add(1)
		metrics.AddCacheEvictions(c.name, 1)
	}
	metrics.SetCacheEntries(c.name, n)
	return ok
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many entries were dropped.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	var removed int
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	for key := range c.inflight {
		if strings.HasPrefix(key, prefix) {
			c.revokeLocked(key)
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.evictions.Add(int64(removed))
	metrics.AddCacheEvictions(c.name, removed)
	metrics.SetCacheEntries(c.name, n)
	if removed > 0 {
		c.logger.Debug("cache prefix invalidated", "prefix", prefix, "entries_removed", removed)
	}
	return removed
}

// revokeLocked stops an in-flight compute for key from storing, and makes
// the next caller start a new one instead of joining it. Caller holds mu.
func (c *Cache[V]) revokeLocked(key string) {
	if _, ok := c.inflight[key]; ok {
		c.inflight[key] = 0
		c.group.Forget(key)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats holds cache statistics for the stats endpoint and logs.
type Stats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Joins     int64  `json:"joins"`
	Evictions int64  `json:"evictions"`
}

// Stats returns current cache statistics.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Name:      c.name,
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Joins:     c.joins.Load(),
		Evictions: c.evictions.Load(),
	}
}
