// Package cache holds size-bounded, expiring in-memory maps.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWithTTL provides a thread-safe LRU cache with TTL expiration.
//
// Key features:
//   - Size-bounded (evicts least recently used when full)
//   - TTL expiration (entries expire after configured duration)
//   - Hit/miss/eviction/expiry counters
type LRUWithTTL[K comparable, V any] struct {
	mu      sync.Mutex
	cache   *lru.Cache[K, *ttlEntry[V]]
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
	evicted uint64
	expired uint64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLRUWithTTL creates a new LRU cache with TTL.
//
// Args:
//   - size: Maximum number of entries (LRU eviction when full)
//   - ttl: Time-to-live for entries (0 means no expiration)
//
// Returns:
//   - *LRUWithTTL or error if size is invalid
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration) (*LRUWithTTL[K, V], error) {
	cache, err := lru.New[K, *ttlEntry[V]](size)
	if err != nil {
		return nil, err
	}

	return &LRUWithTTL[K, V]{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

func (c *LRUWithTTL[K, V]) live(e *ttlEntry[V], now time.Time) bool {
	return c.ttl == 0 || !now.After(e.expiresAt)
}

// Peek retrieves a live value without touching recency or stats
func (c *LRUWithTTL[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Peek(key)
	if !ok || !c.live(entry, c.now()) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Take retrieves a live value and removes it. Expired entries count as
// misses and are removed too.
func (c *LRUWithTTL[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.cache.Peek(key)
	if !ok {
		c.misses++
		return zero, false
	}

	c.cache.Remove(key)
	if !c.live(entry, c.now()) {
		c.expired++
		c.misses++
		return zero, false
	}
	c.hits++
	return entry.value, true
}

// Set stores a value with a fresh TTL.
//
// If the cache is full, the least recently used entry is evicted.
func (c *LRUWithTTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{} // no expiration
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if evicted := c.cache.Add(key, &ttlEntry[V]{value: value, expiresAt: expiresAt}); evicted {
		c.evicted++
	}
}

// Snapshot copies every live entry without touching recency
func (c *LRUWithTTL[K, V]) Snapshot() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make(map[K]V, c.cache.Len())
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && c.live(entry, now) {
			out[key] = entry.value
		}
	}
	return out
}

// Len returns the number of entries, expired ones included until they are
// cleaned up.
func (c *LRUWithTTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Len()
}

// Stats returns cache statistics for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Expired uint64  `json:"expired"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *LRUWithTTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
		Expired: c.expired,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// CleanupExpired removes all expired entries from the cache.
//
// Returns:
//   - Number of entries removed
func (c *LRUWithTTL[K, V]) CleanupExpired() int {
	if c.ttl == 0 {
		return 0 // no expiration
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	// O(n); run infrequently
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && !c.live(entry, now) {
			c.cache.Remove(key)
			removed++
		}
	}
	c.expired += uint64(removed)

	return removed
}
