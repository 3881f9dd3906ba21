// Package goja implements ports.ScriptRuntime on the dop251/goja
// interpreter. One interpreter instance backs the whole bridge; callers
// are serialized by a runtime mutex because goja is not reentrant.
package goja

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	js "github.com/dop251/goja"

	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// ModuleLoader resolves a module name to its source text. Loaders report
// unknown names with domain.ErrModuleNotFound.
type ModuleLoader func(name string) (string, error)

// Runtime is the goja-backed script runtime.
type Runtime struct {
	mu         sync.Mutex
	vm         *js.Runtime
	loader     ModuleLoader
	modules    map[string]*module
	maxModules int
	logger     *slog.Logger
	closed     bool

	// callCtx is the context of the execution in flight. API callbacks
	// read it; execution is serialized so a single slot suffices.
	callCtx context.Context

	execs    uint64
	failures uint64
	totalDur time.Duration
}

// Option configures the runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logging.Component(logger, "runtime")
	}
}

// WithModuleLoader sets the module source resolver.
func WithModuleLoader(loader ModuleLoader) Option {
	return func(r *Runtime) {
		r.loader = loader
	}
}

// WithMaxModules bounds the module cache.
func WithMaxModules(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxModules = n
		}
	}
}

// New creates a runtime with a fresh interpreter.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		vm:         js.New(),
		modules:    map[string]*module{},
		maxModules: 64,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MapModules builds a ModuleLoader over a fixed name-to-source map.
func MapModules(sources map[string]string) ModuleLoader {
	return func(name string) (string, error) {
		src, ok := sources[name]
		if !ok {
			return "", fmt.Errorf("module %q: %w", name, domain.ErrModuleNotFound)
		}
		return src, nil
	}
}

// Execute evaluates code with the given bindings installed as globals for
// the duration of the call. The value of the last expression is converted
// back to a domain value.
func (r *Runtime) Execute(ctx context.Context, code string, bindings map[string]domain.Value) (domain.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Value{}, domain.ErrClosed
	}

	start := time.Now()
	names := make([]string, 0, len(bindings))
	for name, v := range bindings {
		if err := r.vm.Set(name, r.toJS(v)); err != nil {
			return domain.Value{}, fmt.Errorf("failed to bind %q: %w", name, err)
		}
		names = append(names, name)
	}

	out, err := r.run(ctx, code)

	global := r.vm.GlobalObject()
	for _, name := range names {
		_ = global.Delete(name)
	}

	r.execs++
	r.totalDur += time.Since(start)
	if err != nil {
		r.failures++
		return domain.Value{}, err
	}
	return r.fromJS(out), nil
}

// ImportModule loads a module through the configured loader, caching it by
// name. Modules are CommonJS-shaped: the source assigns to module.exports.
func (r *Runtime) ImportModule(ctx context.Context, name string, forceReload bool) (ports.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrClosed
	}
	if m, ok := r.modules[name]; ok && !forceReload {
		return m, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("module %q: no loader configured: %w", name, domain.ErrModuleNotFound)
	}

	src, err := r.loader(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load module %q: %w", name, err)
	}

	exports, err := r.evalModule(ctx, name, src)
	if err != nil {
		return nil, err
	}

	m := &module{rt: r, name: name, exports: exports, loadedAt: time.Now()}
	if _, replacing := r.modules[name]; !replacing && len(r.modules) >= r.maxModules {
		r.evictOldestModule()
	}
	r.modules[name] = m
	r.logger.Debug("module loaded", "module", name, "reload", forceReload)
	return m, nil
}

func (r *Runtime) evalModule(ctx context.Context, name, src string) (*js.Object, error) {
	wrapped := "(function(module, exports) {\n" + src + "\nreturn module.exports; })"
	fnVal, err := r.run(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %q: %w", name, err)
	}
	fn, ok := js.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("failed to compile module %q: wrapper is not a function", name)
	}

	moduleObj := r.vm.NewObject()
	exportsObj := r.vm.NewObject()
	if err := moduleObj.Set("exports", exportsObj); err != nil {
		return nil, fmt.Errorf("failed to prepare module %q: %w", name, err)
	}

	res, err := fn(js.Undefined(), moduleObj, exportsObj)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate module %q: %w", name, err)
	}
	out := res.ToObject(r.vm)
	if out == nil {
		return nil, fmt.Errorf("module %q exports nothing", name)
	}
	return out, nil
}

func (r *Runtime) evictOldestModule() {
	var oldestName string
	var oldest time.Time
	first := true
	for name, m := range r.modules {
		if first || m.loadedAt.Before(oldest) {
			oldestName = name
			oldest = m.loadedAt
			first = false
		}
	}
	if !first {
		delete(r.modules, oldestName)
		r.logger.Debug("module evicted", "module", oldestName)
	}
}

// RegisterAPI installs a group of host functions as a global object. Script
// errors surface host errors as thrown exceptions.
func (r *Runtime) RegisterAPI(name string, funcs map[string]ports.APIFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrClosed
	}

	obj := r.vm.NewObject()
	for fname, fn := range funcs {
		fn := fn
		wrapper := func(call js.FunctionCall) js.Value {
			args := make([]domain.Value, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = r.fromJS(a)
			}
			ctx := r.callCtx
			if ctx == nil {
				ctx = context.Background()
			}
			out, err := fn(ctx, args)
			if err != nil {
				panic(r.vm.NewGoError(err))
			}
			return r.toJS(out)
		}
		if err := obj.Set(fname, wrapper); err != nil {
			return fmt.Errorf("failed to register %s.%s: %w", name, fname, err)
		}
	}
	if err := r.vm.Set(name, obj); err != nil {
		return fmt.Errorf("failed to register api %q: %w", name, err)
	}
	return nil
}

// ModuleCount reports the cached module count.
func (r *Runtime) ModuleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}

// Stats returns the runtime snapshot.
func (r *Runtime) Stats() domain.RuntimeStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := domain.RuntimeStats{
		Executions:    r.execs,
		Failures:      r.failures,
		ModulesLoaded: len(r.modules),
	}
	if r.execs > 0 {
		s.AvgDuration = r.totalDur / time.Duration(r.execs)
	}
	return s
}

// ResetStats zeroes the counters. Cached modules are untouched.
func (r *Runtime) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs, r.failures, r.totalDur = 0, 0, 0
}

// ClearModules drops every cached module.
func (r *Runtime) ClearModules() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = map[string]*module{}
}

// Close shuts the interpreter down. Safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.modules = map[string]*module{}
	return nil
}

// run evaluates code on the interpreter, interrupting it if ctx is
// cancelled mid-script. Callers hold r.mu.
func (r *Runtime) run(ctx context.Context, code string) (js.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("script not started: %w", err)
	}
	r.callCtx = ctx
	defer func() { r.callCtx = nil }()

	stop := r.watch(ctx)
	defer stop()

	v, err := r.vm.RunString(code)
	if err != nil {
		var interrupted *js.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, fmt.Errorf("script interrupted: %w", cause)
			}
			return nil, fmt.Errorf("script interrupted: %v", interrupted.Value())
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return v, nil
}

// watch interrupts the interpreter when ctx is cancelled. The returned
// func stops the watcher and clears any pending interrupt.
func (r *Runtime) watch(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()
	return func() {
		close(stop)
		<-done
		r.vm.ClearInterrupt()
	}
}
