package cache

import (
	"context"
	"time"

	"github.com/star/satpass/internal/metrics"
)

// Start runs the eviction loop, dropping expired entries every interval.
// Lookups already ignore expired entries; the loop only bounds memory.
//
// Blocks until ctx is cancelled.
func (c *Cache[V]) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache janitor stopped")
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

// EvictExpired removes entries past their TTL and returns how many it removed.
func (c *Cache[V]) EvictExpired() int {
	now := c.clock.Now()
	var removed int

	c.mu.Lock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(c.name, removed)
		metrics.SetCacheEntries(c.name, n)
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}

	return removed
}
