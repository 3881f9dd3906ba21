package accessors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/internal/txn"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// AttrRequest identifies one attribute in a batch read.
type AttrRequest struct {
	Handle domain.Handle
	Attr   string
}

// AttrResult is the per-key outcome of a batch read.
type AttrResult struct {
	Request AttrRequest
	Value   domain.Value
	Err     error
}

// AttrWrite identifies one attribute write in a batch.
type AttrWrite struct {
	Handle domain.Handle
	Attr   string
	Value  domain.Value
}

// WriteResult is the per-key outcome of a batch write.
type WriteResult struct {
	Write AttrWrite
	Err   error
}

type accessorStats struct {
	mu       sync.Mutex
	ops      uint64
	writes   uint64
	batches  uint64
	failures uint64
}

func (s *accessorStats) op()    { s.mu.Lock(); s.ops++; s.mu.Unlock() }
func (s *accessorStats) write() { s.mu.Lock(); s.writes++; s.mu.Unlock() }
func (s *accessorStats) batch() { s.mu.Lock(); s.batches++; s.mu.Unlock() }
func (s *accessorStats) fail()  { s.mu.Lock(); s.failures++; s.mu.Unlock() }

func (s *accessorStats) snapshot(cache domain.CacheStats) domain.AccessorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.AccessorStats{
		Ops:      s.ops,
		Writes:   s.writes,
		Batches:  s.batches,
		Failures: s.failures,
		Cache:    cache,
	}
}

func (s *accessorStats) reset() {
	s.mu.Lock()
	s.ops, s.writes, s.batches, s.failures = 0, 0, 0, 0
	s.mu.Unlock()
}

// Element accesses host elements and their attributes through a per-key
// cache; mutations run inside coordinator transactions.
//
// Writes through a different accessor do not invalidate this accessor's
// cache of the same logical attribute. That is a documented limitation of
// the bridge, not a defect to compensate for here.
type Element struct {
	host   ports.HostModel
	coord  *txn.Coordinator
	cache  *cache
	logger *slog.Logger
	gate   *semaphore.Weighted
	stats  accessorStats
}

// NewElement creates the element accessor.
func NewElement(host ports.HostModel, coord *txn.Coordinator, cfg domain.Config, logger *slog.Logger) *Element {
	return &Element{
		host:   host,
		coord:  coord,
		cache:  newCache(cfg.CacheTTL, cfg.ObjectCacheSize),
		logger: logging.Component(logger, "elements"),
		gate:   semaphore.NewWeighted(int64(cfg.MaxConcurrentOps)),
	}
}

// Cache exposes the cache for sweep registration.
func (a *Element) Cache() Sweeper { return a.cache }

// Sweeper is the sweepable view of an accessor cache.
type Sweeper interface{ Sweep() int }

// GetAttr reads one attribute, serving from cache when fresh.
func (a *Element) GetAttr(ctx context.Context, h domain.Handle, name string) (domain.Value, error) {
	a.stats.op()
	key := attrKey(h, name)
	if v, ok := a.cache.get(key); ok {
		return v, nil
	}
	v, err := a.host.GetAttribute(ctx, h, name)
	if err != nil {
		a.stats.fail()
		return domain.Value{}, &domain.HostError{Op: "get-attribute", Cause: err}
	}
	a.cache.put(key, v)
	return v, nil
}

// SetAttr writes one attribute inside a transaction. The cache entry is
// replaced only after both the host write and the commit succeed, so a
// failed write can never leave the cache ahead of the document.
func (a *Element) SetAttr(ctx context.Context, ec *txn.Context, h domain.Handle, name string, v domain.Value) error {
	a.stats.write()
	err := a.coord.Execute(ctx, ec, "set "+name, h.Document, func(ctx context.Context) error {
		return a.host.SetAttribute(ctx, h, name, v)
	})
	if err != nil {
		a.stats.fail()
		return err
	}
	a.cache.put(attrKey(h, name), v)
	return nil
}

// GetMany reads a batch of attributes. Cached keys are served directly;
// the rest fan out under the concurrency gate. Failures are captured per
// key. Cancellation stops dispatching further items and returns the
// context's error.
func (a *Element) GetMany(ctx context.Context, reqs []AttrRequest) ([]AttrResult, error) {
	a.stats.batch()
	results := make([]AttrResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		results[i].Request = req

		key := attrKey(req.Handle, req.Attr)
		if v, ok := a.cache.get(key); ok {
			results[i].Value = v
			continue
		}

		// Honor cancellation before dispatching each uncached item.
		if err := a.gate.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return results, fmt.Errorf("batch get cancelled: %w", err)
		}
		wg.Add(1)
		go func(i int, req AttrRequest) {
			defer wg.Done()
			defer a.gate.Release(1)
			v, err := a.host.GetAttribute(ctx, req.Handle, req.Attr)
			if err != nil {
				results[i].Err = &domain.HostError{Op: "get-attribute", Cause: err}
				a.stats.fail()
				return
			}
			a.cache.put(attrKey(req.Handle, req.Attr), v)
			results[i].Value = v
		}(i, req)
	}
	wg.Wait()
	return results, nil
}

// SetMany writes a batch inside a single transaction. Individual write
// failures are recorded per key without aborting the batch; the
// transaction commits whatever succeeded. Cache entries for successful
// writes are replaced only after the commit lands.
func (a *Element) SetMany(ctx context.Context, ec *txn.Context, writes []AttrWrite) ([]WriteResult, error) {
	a.stats.batch()
	results := make([]WriteResult, len(writes))
	succeeded := make([]bool, len(writes))

	err := a.coord.Execute(ctx, ec, "batch set", batchDocument(writes), func(ctx context.Context) error {
		for i, w := range writes {
			results[i].Write = w
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("batch set cancelled: %w", err)
			}
			if err := a.host.SetAttribute(ctx, w.Handle, w.Attr, w.Value); err != nil {
				results[i].Err = &domain.HostError{Op: "set-attribute", Cause: err}
				a.stats.fail()
				continue
			}
			succeeded[i] = true
		}
		return nil
	})
	if err != nil {
		a.stats.fail()
		return results, err
	}
	for i, ok := range succeeded {
		if ok {
			a.cache.put(attrKey(writes[i].Handle, writes[i].Attr), writes[i].Value)
			a.stats.write()
		}
	}
	return results, nil
}

// All lists every element of a host type. List queries are not cached.
func (a *Element) All(ctx context.Context, document, typeName string) ([]domain.Handle, error) {
	a.stats.op()
	handles, err := a.host.ElementsOfType(ctx, document, typeName)
	if err != nil {
		a.stats.fail()
		return nil, &domain.HostError{Op: "elements-of-type", Cause: err}
	}
	return handles, nil
}

// Query lists elements matching a filter.
func (a *Element) Query(ctx context.Context, document string, filter ports.ElementFilter) ([]domain.Handle, error) {
	a.stats.op()
	handles, err := a.host.QueryElements(ctx, document, filter)
	if err != nil {
		a.stats.fail()
		return nil, &domain.HostError{Op: "query-elements", Cause: err}
	}
	return handles, nil
}

// Create adds a new element inside a transaction.
func (a *Element) Create(ctx context.Context, ec *txn.Context, document, typeName string, attrs map[string]domain.Value) (domain.Handle, error) {
	a.stats.write()
	var handle domain.Handle
	err := a.coord.Execute(ctx, ec, "create "+typeName, document, func(ctx context.Context) error {
		var err error
		handle, err = a.host.CreateElement(ctx, document, typeName, attrs)
		return err
	})
	if err != nil {
		a.stats.fail()
		return domain.Handle{}, err
	}
	return handle, nil
}

// Delete removes an element inside a transaction and drops its cached
// attributes.
func (a *Element) Delete(ctx context.Context, ec *txn.Context, h domain.Handle) error {
	a.stats.write()
	err := a.coord.Execute(ctx, ec, "delete "+h.Element, h.Document, func(ctx context.Context) error {
		return a.host.DeleteElement(ctx, h)
	})
	if err != nil {
		a.stats.fail()
		return err
	}
	a.invalidateElement(h)
	return nil
}

// Copy duplicates an element inside a transaction.
func (a *Element) Copy(ctx context.Context, ec *txn.Context, h domain.Handle) (domain.Handle, error) {
	a.stats.write()
	var dup domain.Handle
	err := a.coord.Execute(ctx, ec, "copy "+h.Element, h.Document, func(ctx context.Context) error {
		var err error
		dup, err = a.host.CopyElement(ctx, h)
		return err
	})
	if err != nil {
		a.stats.fail()
		return domain.Handle{}, err
	}
	return dup, nil
}

// Stats returns the accessor snapshot.
func (a *Element) Stats() domain.AccessorStats {
	return a.stats.snapshot(a.cache.stats())
}

// ResetStats zeroes counters without dropping cached values.
func (a *Element) ResetStats() {
	a.stats.reset()
	a.cache.resetStats()
}

// ClearCache drops every cached value.
func (a *Element) ClearCache() { a.cache.clear() }

func (a *Element) invalidateElement(h domain.Handle) {
	prefix := h.Key() + "/"
	a.cache.mu.Lock()
	for key := range a.cache.entries {
		if strings.HasPrefix(key, prefix) {
			delete(a.cache.entries, key)
		}
	}
	a.cache.mu.Unlock()
}

func batchDocument(writes []AttrWrite) string {
	if len(writes) == 0 {
		return ""
	}
	return writes[0].Handle.Document
}
