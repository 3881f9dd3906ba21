// Package accessors implements the cache-coordinated accessor layer:
// element, parameter and geometry access against the host object model,
// with per-accessor memoization, transactional writes and batch fan-out.
package accessors

import (
	"sync"
	"time"

	"github.com/aretw0/trestle/pkg/domain"
)

// Idle/cold eviction thresholds: entries touched fewer than coldAccessMax
// times and idle longer than idleEvictAfter are reclaimable before their
// TTL runs out.
const (
	coldAccessMax  = 2
	idleEvictAfter = 2 * time.Minute
)

type cacheEntry struct {
	value       domain.Value
	computedAt  time.Time
	expiresAt   time.Time
	accessCount uint64
	lastAccess  time.Time
}

// cache memoizes host-API round trips. Keys are the canonical
// "(document, object, attribute)" triple rendered as document/element/attr.
//
// The key scheme is per attribute, not per element: two attributes of the
// same element invalidate independently.
type cache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	clock      func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

func newCache(ttl time.Duration, maxEntries int) *cache {
	return &cache{
		entries:    map[string]*cacheEntry{},
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      time.Now,
	}
}

func attrKey(h domain.Handle, attr string) string {
	return h.Key() + "/" + attr
}

// get returns the cached value if present and unexpired, recording a hit
// or miss.
func (c *cache) get(key string) (domain.Value, bool) {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return domain.Value{}, false
	}
	// An entry is never served past its expiry.
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return domain.Value{}, false
	}
	e.accessCount++
	e.lastAccess = now
	c.hits++
	return e.value, true
}

// put inserts or replaces an entry, evicting the least recently used entry
// when the cache is at capacity.
func (c *cache) put(key string, v domain.Value) {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{
		value:      v,
		computedAt: now,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
	}
}

// invalidate removes a single key.
func (c *cache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// clear drops every entry without touching hit/miss counters.
func (c *cache) clear() {
	c.mu.Lock()
	c.entries = map[string]*cacheEntry{}
	c.mu.Unlock()
}

// Sweep removes expired entries plus cold idle ones, returning how many
// were reclaimed. Called by the performance coordinator's periodic sweep.
func (c *cache) Sweep() int {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		expired := now.After(e.expiresAt)
		cold := e.accessCount < coldAccessMax && now.Sub(e.lastAccess) > idleEvictAfter
		if expired || cold {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

func (c *cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *cache) stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

func (c *cache) resetStats() {
	c.mu.Lock()
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.mu.Unlock()
}
