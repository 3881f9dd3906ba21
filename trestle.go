package trestle

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/aretw0/trestle/internal/accessors"
	gojaAdapter "github.com/aretw0/trestle/internal/adapters/goja"
	"github.com/aretw0/trestle/internal/convert"
	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/internal/perf"
	"github.com/aretw0/trestle/internal/txn"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// Bridge is the high-level entry point for the Trestle library. It wires
// the conversion registry, transaction coordinator, accessors, and the
// scripting runtime behind one lifecycle.
type Bridge struct {
	host    ports.HostModel
	cfg     domain.Config
	logger  *slog.Logger
	runtime ports.ScriptRuntime
	store   ports.DescriptorStore
	clock   func() time.Time

	mu     sync.Mutex
	ready  bool
	closed bool

	registry *convert.Registry
	coord    *txn.Coordinator
	elements *accessors.Element
	params   *accessors.Parameter
	geometry *accessors.Geometry
	perf     *perf.Coordinator
	memo     *perf.Memo

	// execMu serializes script execution; the runtime is not reentrant.
	// activeEC is the transaction context of the execution in flight.
	execMu   sync.Mutex
	activeEC *txn.Context
}

// Option defines a functional option for configuring the Bridge.
type Option func(*Bridge)

// WithLogger sets a custom structured logger for the bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithRuntime injects a custom script runtime, bypassing the default goja
// interpreter.
func WithRuntime(rt ports.ScriptRuntime) Option {
	return func(b *Bridge) {
		b.runtime = rt
	}
}

// WithDescriptorStore configures a store for warm-starting and persisting
// element descriptors.
func WithDescriptorStore(store ports.DescriptorStore) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

// WithClock overrides the time source used for stats snapshots.
func WithClock(clock func() time.Time) Option {
	return func(b *Bridge) {
		b.clock = clock
	}
}

// New creates a bridge over the given host model. The bridge is inert
// until Initialize is called.
func New(host ports.HostModel, cfg domain.Config, opts ...Option) (*Bridge, error) {
	if host == nil {
		return nil, fmt.Errorf("host model is required")
	}
	cfg = cfg.Normalize()

	b := &Bridge{
		host:   host,
		cfg:    cfg,
		logger: logging.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.runtime == nil {
		b.runtime = gojaAdapter.New(
			gojaAdapter.WithLogger(b.logger),
			gojaAdapter.WithMaxModules(cfg.ModuleCacheSize),
		)
	}
	return b, nil
}

// Initialize builds the component graph and flips the bridge ready. It is
// idempotent; every other method fails with domain.ErrNotInitialized
// until it has run.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrClosed
	}
	if b.ready {
		return nil
	}

	registry := convert.NewRegistry(b.logger)
	if err := convert.RegisterHostTypes(registry); err != nil {
		return fmt.Errorf("failed to register host types: %w", err)
	}
	registry.Freeze()
	b.registry = registry

	b.coord = txn.NewCoordinator(b.host,
		txn.WithLogger(b.logger),
		txn.WithFailureMode(b.cfg.FailureMode),
	)

	b.memo = perf.NewMemo(b.cfg.ObjectCacheSize)
	b.elements = accessors.NewElement(b.host, b.coord, b.cfg, b.logger)
	b.params = accessors.NewParameter(b.host, b.coord, b.cfg, b.logger)
	b.geometry = accessors.NewGeometry(b.host, b.coord, b.memo, b.cfg, b.logger)

	b.perf = perf.NewCoordinator(b.cfg.SweepInterval, b.logger)
	b.perf.Register(b.elements.Cache())
	b.perf.Register(b.params.Cache())
	b.perf.Register(b.geometry.Cache())
	b.perf.Register(b.memo)
	if b.cfg.MemoryOptimization {
		b.perf.Start()
	}

	if b.store != nil {
		loaded, err := b.params.WarmDescriptors(ctx, b.store)
		if err != nil {
			b.logger.Warn("descriptor warm start failed", "err", err)
		} else if loaded > 0 {
			b.logger.Info("descriptors warm started", "count", loaded)
		}
	}

	if err := b.registerScriptAPI(); err != nil {
		b.perf.Stop()
		return fmt.Errorf("failed to register script api: %w", err)
	}

	for _, name := range b.cfg.PreloadModules {
		if _, err := b.runtime.ImportModule(ctx, name, false); err != nil {
			b.perf.Stop()
			return fmt.Errorf("failed to preload module %q: %w", name, err)
		}
	}

	b.ready = true
	b.logger.Info("bridge initialized",
		"cache_size", b.cfg.ObjectCacheSize,
		"max_concurrent", b.cfg.MaxConcurrentOps,
	)
	return nil
}

// ExecuteScript runs code with the given variables bound, serialized
// against all other script execution. Host writes performed by the script
// run inside transactions on a context owned by this call.
func (b *Bridge) ExecuteScript(ctx context.Context, code string, vars map[string]domain.Value) (domain.Value, error) {
	if err := b.ensureReady(); err != nil {
		return domain.Value{}, err
	}
	b.execMu.Lock()
	defer b.execMu.Unlock()

	b.activeEC = txn.NewContext()
	defer func() { b.activeEC = nil }()

	return b.runtime.Execute(ctx, code, vars)
}

// ImportModule loads a script module by name, caching it until a forced
// reload replaces it. The module's top-level code runs on load, so it gets
// a transaction context like any other script execution.
func (b *Bridge) ImportModule(ctx context.Context, name string, forceReload bool) (ports.Module, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	b.execMu.Lock()
	defer b.execMu.Unlock()

	b.activeEC = txn.NewContext()
	defer func() { b.activeEC = nil }()

	return b.runtime.ImportModule(ctx, name, forceReload)
}

// CallFunction invokes a function exported by a module.
func (b *Bridge) CallFunction(ctx context.Context, module, function string, args ...domain.Value) (domain.Value, error) {
	if err := b.ensureReady(); err != nil {
		return domain.Value{}, err
	}
	b.execMu.Lock()
	defer b.execMu.Unlock()

	// The context covers the import too: a first load runs the module's
	// top-level code.
	b.activeEC = txn.NewContext()
	defer func() { b.activeEC = nil }()

	m, err := b.runtime.ImportModule(ctx, module, false)
	if err != nil {
		return domain.Value{}, err
	}
	return m.Call(ctx, function, args)
}

// Elements returns the element accessor for host-side callers.
func (b *Bridge) Elements() (*accessors.Element, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	return b.elements, nil
}

// Parameters returns the parameter accessor for host-side callers.
func (b *Bridge) Parameters() (*accessors.Parameter, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	return b.params, nil
}

// Geometry returns the geometry accessor for host-side callers.
func (b *Bridge) Geometry() (*accessors.Geometry, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	return b.geometry, nil
}

// Transactions returns the coordinator, for embedders that manage their
// own transaction scopes.
func (b *Bridge) Transactions() (*txn.Coordinator, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	return b.coord, nil
}

// ConvertToHost converts a dynamic value to the given host type.
func (b *Bridge) ConvertToHost(v domain.Value, target reflect.Type) (any, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	return b.registry.ToHost(v, target)
}

// ConvertToDynamic converts a host value to its dynamic representation.
func (b *Bridge) ConvertToDynamic(hostValue any, preserveTypeTag bool) (domain.Value, error) {
	if err := b.ensureReady(); err != nil {
		return domain.Value{}, err
	}
	return b.registry.ToDynamic(hostValue, preserveTypeTag)
}

// Stats returns an aggregate snapshot of every component plus process
// memory.
func (b *Bridge) Stats() (domain.BridgeStats, error) {
	if err := b.ensureReady(); err != nil {
		return domain.BridgeStats{}, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := domain.BridgeStats{
		Conversion: b.registry.Stats(),
		Txn:        b.coord.Stats(),
		Elements:   b.elements.Stats(),
		Parameters: b.params.Stats(),
		Geometry:   b.geometry.Stats(),
		HeapAlloc:  mem.HeapAlloc,
		HeapInUse:  mem.HeapInuse,
		NumGC:      mem.NumGC,
		CapturedAt: b.clock(),
	}
	if rt, ok := b.runtime.(interface{ Stats() domain.RuntimeStats }); ok {
		s.Runtime = rt.Stats()
	}
	return s, nil
}

// ResetStats zeroes every component counter. Caches keep their contents.
func (b *Bridge) ResetStats() error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	b.registry.ResetStats()
	b.coord.ResetStats()
	b.elements.ResetStats()
	b.params.ResetStats()
	b.geometry.ResetStats()
	if rt, ok := b.runtime.(interface{ ResetStats() }); ok {
		rt.ResetStats()
	}
	return nil
}

// OptimizeMemory sweeps every cache immediately and nudges the collector.
func (b *Bridge) OptimizeMemory() error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	b.perf.OptimizeMemory()
	return nil
}

// Close tears the bridge down: stops sweeps, snapshots descriptors when a
// store is configured, and closes the runtime. Safe to call more than
// once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.ready {
		return b.runtime.Close()
	}
	b.ready = false

	b.perf.Stop()
	if b.store != nil {
		if err := b.params.SnapshotDescriptors(context.Background(), b.store); err != nil {
			b.logger.Warn("descriptor snapshot failed", "err", err)
		}
	}
	b.elements.ClearCache()
	b.params.ClearCache()
	b.geometry.ClearCache()

	if err := b.runtime.Close(); err != nil {
		return fmt.Errorf("failed to close runtime: %w", err)
	}
	b.logger.Info("bridge closed")
	return nil
}

func (b *Bridge) ensureReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrClosed
	}
	if !b.ready {
		return domain.ErrNotInitialized
	}
	return nil
}
