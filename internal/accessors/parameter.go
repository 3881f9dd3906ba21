package accessors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/internal/txn"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// ValidationRule checks a candidate parameter value against its
// descriptor. Rules run in registration order and the chain short-circuits
// on the first failure.
type ValidationRule interface {
	Name() string
	Validate(d domain.ParameterDescriptor, v domain.Value) domain.ValidationResult
}

// Parameter accesses host parameters with descriptor-aware validation.
// Descriptors are cached per host type shape and can be warm-started from
// a DescriptorStore.
type Parameter struct {
	host   ports.HostModel
	coord  *txn.Coordinator
	cache  *cache
	logger *slog.Logger
	gate   *semaphore.Weighted
	stats  accessorStats

	rulesMu sync.RWMutex
	rules   []ValidationRule

	descMu      sync.RWMutex
	descriptors map[string]domain.ElementDescriptor
}

// NewParameter creates the parameter accessor with the default validation
// chain: not-null, read-only, numeric range, string length.
func NewParameter(host ports.HostModel, coord *txn.Coordinator, cfg domain.Config, logger *slog.Logger) *Parameter {
	return &Parameter{
		host:   host,
		coord:  coord,
		cache:  newCache(cfg.CacheTTL, cfg.ObjectCacheSize),
		logger: logging.Component(logger, "parameters"),
		gate:   semaphore.NewWeighted(int64(cfg.MaxConcurrentOps)),
		rules: []ValidationRule{
			notNullRule{},
			readOnlyRule{},
			numericRangeRule{},
			stringLengthRule{},
		},
		descriptors: map[string]domain.ElementDescriptor{},
	}
}

// Cache exposes the cache for sweep registration.
func (a *Parameter) Cache() Sweeper { return a.cache }

// RegisterRule appends a validation rule to the chain.
func (a *Parameter) RegisterRule(r ValidationRule) {
	a.rulesMu.Lock()
	a.rules = append(a.rules, r)
	a.rulesMu.Unlock()
}

// Describe returns the element descriptor for a handle's host type,
// cached per type shape.
func (a *Parameter) Describe(ctx context.Context, h domain.Handle) (domain.ElementDescriptor, error) {
	a.stats.op()
	a.descMu.RLock()
	if d, ok := a.descriptors[h.Type]; ok {
		a.descMu.RUnlock()
		return d, nil
	}
	a.descMu.RUnlock()

	d, err := a.host.GetElement(ctx, h)
	if err != nil {
		a.stats.fail()
		return domain.ElementDescriptor{}, &domain.HostError{Op: "get-element", Cause: err}
	}
	a.descMu.Lock()
	a.descriptors[d.TypeName] = d
	a.descMu.Unlock()
	return d, nil
}

// WarmDescriptors preloads descriptors from a store, typically during
// facade initialization.
func (a *Parameter) WarmDescriptors(ctx context.Context, store ports.DescriptorStore) (int, error) {
	names, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored descriptors: %w", err)
	}
	loaded := 0
	for _, name := range names {
		d, err := store.Load(ctx, name)
		if err != nil {
			a.logger.Warn("skipping stored descriptor", "type", name, "err", err)
			continue
		}
		a.descMu.Lock()
		a.descriptors[d.TypeName] = d
		a.descMu.Unlock()
		loaded++
	}
	return loaded, nil
}

// SnapshotDescriptors writes every cached descriptor to a store, so the
// next run starts warm.
func (a *Parameter) SnapshotDescriptors(ctx context.Context, store ports.DescriptorStore) error {
	a.descMu.RLock()
	descriptors := make([]domain.ElementDescriptor, 0, len(a.descriptors))
	for _, d := range a.descriptors {
		descriptors = append(descriptors, d)
	}
	a.descMu.RUnlock()
	for _, d := range descriptors {
		if err := store.Save(ctx, d); err != nil {
			return fmt.Errorf("failed to store descriptor %q: %w", d.TypeName, err)
		}
	}
	return nil
}

// Get reads one parameter value, serving from cache when fresh.
func (a *Parameter) Get(ctx context.Context, h domain.Handle, name string) (domain.Value, error) {
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

// Validate runs the rule chain for a candidate value without writing it.
func (a *Parameter) Validate(ctx context.Context, h domain.Handle, name string, v domain.Value) (domain.ValidationResult, error) {
	desc, err := a.Describe(ctx, h)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	pd, ok := desc.Parameter(name)
	if !ok {
		// Unknown slots carry no constraints; only the not-null rule
		// applies.
		pd = domain.ParameterDescriptor{Name: name}
	}
	return a.runRules(pd, v), nil
}

// Set validates and writes one parameter inside a transaction. Validation
// failures come back as a ValidationResult with a nil error; the cache is
// only updated after a successful commit.
func (a *Parameter) Set(ctx context.Context, ec *txn.Context, h domain.Handle, name string, v domain.Value) (domain.ValidationResult, error) {
	a.stats.write()
	result, err := a.Validate(ctx, h, name, v)
	if err != nil {
		a.stats.fail()
		return domain.ValidationResult{}, err
	}
	if !result.Valid {
		a.stats.fail()
		return result, nil
	}

	err = a.coord.Execute(ctx, ec, "set "+name, h.Document, func(ctx context.Context) error {
		return a.host.SetAttribute(ctx, h, name, v)
	})
	if err != nil {
		a.stats.fail()
		return result, err
	}
	a.cache.put(attrKey(h, name), v)
	return result, nil
}

// GetMany reads parameters in a batch under the concurrency gate.
func (a *Parameter) GetMany(ctx context.Context, reqs []AttrRequest) ([]AttrResult, error) {
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

// SetMany validates and writes a batch inside one transaction.
// Validation rejections and write failures are per-key; the transaction
// commits the writes that passed.
func (a *Parameter) SetMany(ctx context.Context, ec *txn.Context, writes []AttrWrite) ([]WriteResult, error) {
	a.stats.batch()
	results := make([]WriteResult, len(writes))
	succeeded := make([]bool, len(writes))

	err := a.coord.Execute(ctx, ec, "batch set", batchDocument(writes), func(ctx context.Context) error {
		for i, w := range writes {
			results[i].Write = w
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("batch set cancelled: %w", err)
			}
			result, err := a.Validate(ctx, w.Handle, w.Attr, w.Value)
			if err != nil {
				results[i].Err = err
				a.stats.fail()
				continue
			}
			if !result.Valid {
				results[i].Err = result.Err()
				a.stats.fail()
				continue
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

// Stats returns the accessor snapshot.
func (a *Parameter) Stats() domain.AccessorStats {
	return a.stats.snapshot(a.cache.stats())
}

// ResetStats zeroes counters without dropping cached values.
func (a *Parameter) ResetStats() {
	a.stats.reset()
	a.cache.resetStats()
}

// ClearCache drops cached values and descriptors.
func (a *Parameter) ClearCache() {
	a.cache.clear()
	a.descMu.Lock()
	a.descriptors = map[string]domain.ElementDescriptor{}
	a.descMu.Unlock()
}

func (a *Parameter) runRules(pd domain.ParameterDescriptor, v domain.Value) domain.ValidationResult {
	a.rulesMu.RLock()
	rules := a.rules
	a.rulesMu.RUnlock()
	for _, r := range rules {
		if result := r.Validate(pd, v); !result.Valid {
			return result
		}
	}
	return domain.OK()
}

// Default validation rules.

type notNullRule struct{}

func (notNullRule) Name() string { return "not-null" }

func (notNullRule) Validate(d domain.ParameterDescriptor, v domain.Value) domain.ValidationResult {
	if v.IsNil() {
		return domain.Invalid("not-null", "parameter %q cannot be null", d.Name)
	}
	return domain.OK()
}

type readOnlyRule struct{}

func (readOnlyRule) Name() string { return "read-only" }

func (readOnlyRule) Validate(d domain.ParameterDescriptor, v domain.Value) domain.ValidationResult {
	if d.ReadOnly {
		return domain.Invalid("read-only", "parameter %q is read-only", d.Name)
	}
	return domain.OK()
}

type numericRangeRule struct{}

func (numericRangeRule) Name() string { return "numeric-range" }

func (numericRangeRule) Validate(d domain.ParameterDescriptor, v domain.Value) domain.ValidationResult {
	if v.Kind() != domain.KindInt && v.Kind() != domain.KindFloat {
		return domain.OK()
	}
	f := v.Float()
	if d.Min != nil && f < *d.Min {
		return domain.Invalid("numeric-range", "parameter %q: %g below minimum %g", d.Name, f, *d.Min)
	}
	if d.Max != nil && f > *d.Max {
		return domain.Invalid("numeric-range", "parameter %q: %g above maximum %g", d.Name, f, *d.Max)
	}
	return domain.OK()
}

type stringLengthRule struct{}

func (stringLengthRule) Name() string { return "string-length" }

func (stringLengthRule) Validate(d domain.ParameterDescriptor, v domain.Value) domain.ValidationResult {
	if v.Kind() != domain.KindString || d.MaxLen <= 0 {
		return domain.OK()
	}
	if len(v.Str()) > d.MaxLen {
		return domain.Invalid("string-length", "parameter %q: length %d exceeds %d", d.Name, len(v.Str()), d.MaxLen)
	}
	return domain.OK()
}
