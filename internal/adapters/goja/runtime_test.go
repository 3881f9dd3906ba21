package goja

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_ExecuteReturnsLastExpression(t *testing.T) {
	r := New()
	defer r.Close()

	v, err := r.Execute(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Int(3), v)
}

func TestRuntime_ExecuteBindingsScopedToCall(t *testing.T) {
	r := New()
	defer r.Close()
	ctx := context.Background()

	v, err := r.Execute(ctx, "height * 2", map[string]domain.Value{
		"height": domain.Float(1500),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Float(3000), v)

	// The binding does not leak into the next execution.
	_, err = r.Execute(ctx, "height", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "height")
}

func TestRuntime_ValueRoundTrip(t *testing.T) {
	r := New()
	defer r.Close()

	input := domain.Map()
	input.Set("name", domain.String("Wall-1"))
	input.Set("sizes", domain.List(domain.Int(1), domain.Int(2)))
	input.Set("ref", domain.HandleOf(domain.Handle{Document: "doc", Element: "42", Type: "Wall"}))

	v, err := r.Execute(context.Background(), "input", map[string]domain.Value{"input": input})
	require.NoError(t, err)

	require.Equal(t, domain.KindMap, v.Kind())
	name, _ := v.Get("name")
	assert.Equal(t, domain.String("Wall-1"), name)
	sizes, _ := v.Get("sizes")
	assert.Equal(t, domain.List(domain.Int(1), domain.Int(2)), sizes)
	ref, _ := v.Get("ref")
	require.Equal(t, domain.KindHandle, ref.Kind())
	assert.Equal(t, "doc", ref.Handle().Document)
	assert.Equal(t, "42", ref.Handle().Element)
}

func TestRuntime_RegisterAPI(t *testing.T) {
	r := New()
	defer r.Close()

	var got []domain.Value
	err := r.RegisterAPI("elements", map[string]ports.APIFunc{
		"double": func(ctx context.Context, args []domain.Value) (domain.Value, error) {
			got = args
			return domain.Float(args[0].Float() * 2), nil
		},
	})
	require.NoError(t, err)

	v, err := r.Execute(context.Background(), "elements.double(21)", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Float(42), v)
	require.Len(t, got, 1)
}

func TestRuntime_APIErrorSurfacesAsThrow(t *testing.T) {
	r := New()
	defer r.Close()

	hostErr := errors.New("element not found")
	err := r.RegisterAPI("elements", map[string]ports.APIFunc{
		"get": func(ctx context.Context, args []domain.Value) (domain.Value, error) {
			return domain.Value{}, hostErr
		},
	})
	require.NoError(t, err)

	// Uncaught host errors fail the execution.
	_, err = r.Execute(context.Background(), "elements.get()", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element not found")

	// Scripts can catch them.
	v, err := r.Execute(context.Background(), `
		var out = "ok";
		try { elements.get(); } catch (e) { out = "caught"; }
		out`, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.String("caught"), v)
}

func TestRuntime_ImportModuleCaches(t *testing.T) {
	loads := 0
	loader := func(name string) (string, error) {
		loads++
		return MapModules(map[string]string{
			"geom": "module.exports = { double: function(x) { return x * 2; } };",
		})(name)
	}
	r := New(WithModuleLoader(loader))
	defer r.Close()
	ctx := context.Background()

	m, err := r.ImportModule(ctx, "geom", false)
	require.NoError(t, err)
	assert.Equal(t, "geom", m.Name())
	assert.Equal(t, 1, r.ModuleCount())

	_, err = r.ImportModule(ctx, "geom", false)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	// Force reload replaces the cached module instead of appending.
	_, err = r.ImportModule(ctx, "geom", true)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 1, r.ModuleCount())
}

func TestRuntime_ImportModuleUnknownName(t *testing.T) {
	r := New(WithModuleLoader(MapModules(nil)))
	defer r.Close()

	_, err := r.ImportModule(context.Background(), "missing", false)
	assert.ErrorIs(t, err, domain.ErrModuleNotFound)
}

func TestRuntime_ModuleCall(t *testing.T) {
	r := New(WithModuleLoader(MapModules(map[string]string{
		"geom": "module.exports = { add: function(a, b) { return a + b; } };",
	})))
	defer r.Close()
	ctx := context.Background()

	m, err := r.ImportModule(ctx, "geom", false)
	require.NoError(t, err)

	v, err := m.Call(ctx, "add", []domain.Value{domain.Int(2), domain.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, domain.Int(5), v)

	_, err = m.Call(ctx, "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestRuntime_ModuleCacheBounded(t *testing.T) {
	r := New(
		WithMaxModules(2),
		WithModuleLoader(func(name string) (string, error) {
			return "module.exports = {};", nil
		}),
	)
	defer r.Close()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := r.ImportModule(ctx, name, false)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 2, r.ModuleCount())
}

func TestRuntime_ExecuteCancellation(t *testing.T) {
	r := New()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Execute(ctx, "while (true) {}", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The interpreter stays usable after an interrupt.
	v, err := r.Execute(context.Background(), "40 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Int(42), v)
}

func TestRuntime_CloseIdempotent(t *testing.T) {
	r := New()

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Execute(context.Background(), "1", nil)
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = r.ImportModule(context.Background(), "geom", false)
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestRuntime_Stats(t *testing.T) {
	r := New()
	defer r.Close()
	ctx := context.Background()

	_, err := r.Execute(ctx, "1", nil)
	require.NoError(t, err)
	_, err = r.Execute(ctx, "not valid js ][", nil)
	require.Error(t, err)

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Executions)
	assert.Equal(t, uint64(1), stats.Failures)

	r.ResetStats()
	assert.Zero(t, r.Stats().Executions)
}
