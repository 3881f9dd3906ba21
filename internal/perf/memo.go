package perf

import (
	"sync"
	"time"

	"github.com/aretw0/trestle/pkg/domain"
)

// memoIdleAfter evicts memoized results untouched for this long.
const memoIdleAfter = 5 * time.Minute

type memoEntry struct {
	value      domain.Value
	lastAccess time.Time
}

// Memo is a memoized computation cache keyed by a caller-supplied content
// hash. It caches pure computations only; there is no TTL because inputs
// are identified by content, but idle entries are reclaimed by Sweep.
type Memo struct {
	mu      sync.Mutex
	entries map[uint64]*memoEntry
	max     int
	clock   func() time.Time

	hits   uint64
	misses uint64
}

// NewMemo creates a memo cache bounded to max entries.
func NewMemo(max int) *Memo {
	return &Memo{entries: map[uint64]*memoEntry{}, max: max, clock: time.Now}
}

// GetOrCompute returns the cached result for the key, computing and
// storing it on first use. Concurrent callers may compute the same key
// redundantly; the computation must be pure so the duplicate work is
// harmless.
func (m *Memo) GetOrCompute(key uint64, compute func() (domain.Value, error)) (domain.Value, bool, error) {
	now := m.clock()
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		e.lastAccess = now
		m.hits++
		v := e.value
		m.mu.Unlock()
		return v, true, nil
	}
	m.misses++
	m.mu.Unlock()

	v, err := compute()
	if err != nil {
		return domain.Value{}, false, err
	}

	m.mu.Lock()
	if len(m.entries) >= m.max {
		m.evictIdleLocked(now)
	}
	m.entries[key] = &memoEntry{value: v, lastAccess: now}
	m.mu.Unlock()
	return v, false, nil
}

// Sweep drops idle entries. Implements Sweepable.
func (m *Memo) Sweep() int {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.entries {
		if now.Sub(e.lastAccess) > memoIdleAfter {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns hit/miss counters and current size.
func (m *Memo) Stats() domain.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CacheStats{Hits: m.hits, Misses: m.misses, Entries: len(m.entries)}
}

// Clear drops every entry.
func (m *Memo) Clear() {
	m.mu.Lock()
	m.entries = map[uint64]*memoEntry{}
	m.mu.Unlock()
}

func (m *Memo) evictIdleLocked(now time.Time) {
	// Prefer idle entries; fall back to evicting the oldest.
	var oldestKey uint64
	var oldest time.Time
	first := true
	for key, e := range m.entries {
		if now.Sub(e.lastAccess) > memoIdleAfter {
			delete(m.entries, key)
			return
		}
		if first || e.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccess
			first = false
		}
	}
	if !first {
		delete(m.entries, oldestKey)
	}
}
