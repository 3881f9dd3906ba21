package goja

import (
	"context"
	"fmt"
	"time"

	js "github.com/dop251/goja"

	"github.com/aretw0/trestle/pkg/domain"
)

// module is a cached script module. A handle stays usable after a force
// reload; it keeps pointing at the exports it was created with.
type module struct {
	rt       *Runtime
	name     string
	exports  *js.Object
	loadedAt time.Time
}

func (m *module) Name() string { return m.name }

// Call invokes an exported function by name.
func (m *module) Call(ctx context.Context, function string, args []domain.Value) (domain.Value, error) {
	m.rt.mu.Lock()
	defer m.rt.mu.Unlock()
	if m.rt.closed {
		return domain.Value{}, domain.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return domain.Value{}, fmt.Errorf("call not started: %w", err)
	}

	fnVal := m.exports.Get(function)
	if fnVal == nil || js.IsUndefined(fnVal) {
		return domain.Value{}, fmt.Errorf("module %q exports no function %q", m.name, function)
	}
	fn, ok := js.AssertFunction(fnVal)
	if !ok {
		return domain.Value{}, fmt.Errorf("module %q: %q is not a function", m.name, function)
	}

	jsArgs := make([]js.Value, len(args))
	for i, a := range args {
		jsArgs[i] = m.rt.toJS(a)
	}

	m.rt.callCtx = ctx
	defer func() { m.rt.callCtx = nil }()
	stop := m.rt.watch(ctx)
	defer stop()

	start := time.Now()
	out, err := fn(js.Undefined(), jsArgs...)
	m.rt.execs++
	m.rt.totalDur += time.Since(start)
	if err != nil {
		m.rt.failures++
		return domain.Value{}, fmt.Errorf("failed to call %s.%s: %w", m.name, function, err)
	}
	return m.rt.fromJS(out), nil
}
