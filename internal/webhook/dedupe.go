package webhook

import (
	"sync"
	"time"
)

// DedupeCache tracks recently-seen message IDs so webhook redeliveries do
// not duplicate pipeline runs. Entries expire after a TTL; the cache is
// bounded to keep memory flat under sustained traffic. Safe for concurrent use.
type DedupeCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	ttl        time.Duration
	maxEntries int
}

// NewDedupeCache creates a bounded TTL dedupe cache.
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	return &DedupeCache{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Seen records the ID and reports whether it was already present and fresh.
func (c *DedupeCache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if expires, ok := c.entries[id]; ok && now.Before(expires) {
		return true
	}

	// Prune expired entries when approaching the cap.
	if len(c.entries) >= c.maxEntries {
		for k, expires := range c.entries {
			if !now.Before(expires) {
				delete(c.entries, k)
			}
		}
		// Hard eviction if still at cap.
		for len(c.entries) >= c.maxEntries {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[id] = now.Add(c.ttl)
	return false
}
