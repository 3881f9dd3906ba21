package trestle_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trestle"
	gojaAdapter "github.com/aretw0/trestle/internal/adapters/goja"
	"github.com/aretw0/trestle/internal/adapters/memory"
	"github.com/aretw0/trestle/pkg/domain"
)

func newBridge(t *testing.T, opts ...trestle.Option) (*memory.Host, *trestle.Bridge) {
	t.Helper()
	host := memory.NewHost()
	min, max := 100.0, 10000.0
	host.DefineType(domain.ElementDescriptor{
		TypeName: "Wall",
		Category: "Structure",
		Parameters: []domain.ParameterDescriptor{
			{Name: "Height", Type: domain.ParamLength, Min: &min, Max: &max},
		},
	})

	b, err := trestle.New(host, domain.DefaultConfig(), opts...)
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return host, b
}

func TestNew_RequiresHost(t *testing.T) {
	_, err := trestle.New(nil, domain.DefaultConfig())
	assert.Error(t, err)
}

func TestBridge_NotInitialized(t *testing.T) {
	b, err := trestle.New(memory.NewHost(), domain.DefaultConfig())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ExecuteScript(context.Background(), "1", nil)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = b.Stats()
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestBridge_InitializeIdempotent(t *testing.T) {
	_, b := newBridge(t)
	require.NoError(t, b.Initialize(context.Background()))
}

func TestBridge_SetParameterThenReadFromCache(t *testing.T) {
	host, b := newBridge(t)
	ctx := context.Background()
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	out, err := b.ExecuteScript(ctx, `
		parameters.set(wall, "Height", 3000);
		parameters.get(wall, "Height")
	`, map[string]domain.Value{"wall": domain.HandleOf(wall)})
	require.NoError(t, err)
	assert.Equal(t, domain.Int(3000), out)

	// The write went through a transaction and primed the cache, so the
	// read needed no host attribute fetch.
	assert.Equal(t, 1, host.Calls("CommitTransaction"))
	assert.Zero(t, host.Calls("GetAttribute"))

	v, err := host.GetAttribute(ctx, wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Int(3000), v)
}

func TestBridge_ValidationRejectionReachesScript(t *testing.T) {
	host, b := newBridge(t)
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	out, err := b.ExecuteScript(context.Background(), `
		var result = parameters.set(wall, "Height", 99999);
		result.rule
	`, map[string]domain.Value{"wall": domain.HandleOf(wall)})
	require.NoError(t, err)
	assert.Equal(t, domain.String("numeric-range"), out)
	assert.Zero(t, host.Calls("BeginTransaction"))
}

func TestBridge_ElementsAPIFromScript(t *testing.T) {
	host, b := newBridge(t)
	host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	out, err := b.ExecuteScript(context.Background(), `
		var created = elements.create("plan", "Wall", { Height: 4000 });
		elements.set(created, "Mark", "W-2");
		var walls = elements.all("plan", "Wall");
		walls.length
	`, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Int(2), out)
}

func TestBridge_GeometryFromScript(t *testing.T) {
	_, b := newBridge(t)

	out, err := b.ExecuteScript(context.Background(), `
		geometry.distance([0, 0, 0], [3, 4, 0])
	`, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Float(5), out)
}

func TestBridge_PointRoundTrip(t *testing.T) {
	_, b := newBridge(t)

	hostVal, err := b.ConvertToHost(
		domain.List(domain.Float(1.5), domain.Float(-2), domain.Float(0.25)),
		reflect.TypeOf(domain.Point{}),
	)
	require.NoError(t, err)
	p, ok := hostVal.(domain.Point)
	require.True(t, ok)

	back, err := b.ConvertToDynamic(p, false)
	require.NoError(t, err)
	require.Equal(t, domain.KindList, back.Kind())
	items := back.ListItems()
	assert.InDelta(t, 1.5, items[0].Float(), 1e-9)
	assert.InDelta(t, -2, items[1].Float(), 1e-9)
	assert.InDelta(t, 0.25, items[2].Float(), 1e-9)
}

func TestBridge_CallFunction(t *testing.T) {
	rt := gojaAdapter.New(gojaAdapter.WithModuleLoader(gojaAdapter.MapModules(map[string]string{
		"layout": `module.exports = {
			widen: function(h, extra) {
				var current = parameters.get(h, "Height");
				parameters.set(h, "Height", current + extra);
				return parameters.get(h, "Height");
			}
		};`,
	})))
	host, b := newBridge(t, trestle.WithRuntime(rt))
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2000)})

	out, err := b.CallFunction(context.Background(), "layout", "widen",
		domain.HandleOf(wall), domain.Float(500))
	require.NoError(t, err)
	assert.Equal(t, domain.Float(2500), out)
}

func TestBridge_ImportModuleTopLevelWrite(t *testing.T) {
	rt := gojaAdapter.New(gojaAdapter.WithModuleLoader(gojaAdapter.MapModules(map[string]string{
		"seed": `module.exports = {
			wall: elements.create("plan", "Wall", {Height: 500})
		};`,
	})))
	host, b := newBridge(t, trestle.WithRuntime(rt))

	// The module's top-level code runs on load and performs a host write,
	// which must land inside a committed transaction.
	m, err := b.ImportModule(context.Background(), "seed", false)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, 1, host.Calls("CreateElement"))
	assert.Equal(t, 1, host.Calls("CommitTransaction"))
}

func TestBridge_ModuleHandleCallWritesTransactionally(t *testing.T) {
	rt := gojaAdapter.New(gojaAdapter.WithModuleLoader(gojaAdapter.MapModules(map[string]string{
		"ops": `module.exports = {
			raise: function(h, v) { parameters.set(h, "Height", v); }
		};`,
	})))
	host, b := newBridge(t, trestle.WithRuntime(rt))
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2000)})

	m, err := b.ImportModule(context.Background(), "ops", false)
	require.NoError(t, err)

	// Calling through the module handle bypasses CallFunction; the write
	// still gets a transaction context of its own.
	_, err = m.Call(context.Background(), "raise", []domain.Value{
		domain.HandleOf(wall), domain.Int(3000),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, host.Calls("CommitTransaction"))
	v, err := host.GetAttribute(context.Background(), wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Int(3000), v)
}

func TestBridge_PreloadModules(t *testing.T) {
	rt := gojaAdapter.New(gojaAdapter.WithModuleLoader(gojaAdapter.MapModules(map[string]string{
		"geomlib": "module.exports = {};",
	})))
	cfg := domain.DefaultConfig()
	cfg.PreloadModules = []string{"geomlib"}

	b, err := trestle.New(memory.NewHost(), cfg, trestle.WithRuntime(rt))
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Initialize(context.Background()))
	assert.Equal(t, 1, rt.ModuleCount())
}

func TestBridge_PreloadFailureFailsInitialize(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.PreloadModules = []string{"missing"}

	b, err := trestle.New(memory.NewHost(), cfg)
	require.NoError(t, err)
	defer b.Close()

	err = b.Initialize(context.Background())
	assert.ErrorIs(t, err, domain.ErrModuleNotFound)
}

func TestBridge_DescriptorWarmStartAndSnapshot(t *testing.T) {
	store := memory.NewDescriptorStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.ElementDescriptor{TypeName: "Door", Category: "Openings"}))

	host, b := newBridge(t, trestle.WithDescriptorStore(store))
	host.DefineType(domain.ElementDescriptor{TypeName: "Door", Category: "Openings"})
	door := host.Seed("plan", "Door", nil)

	// Warm-started descriptor: no host lookup needed.
	params, err := b.Parameters()
	require.NoError(t, err)
	_, err = params.Describe(ctx, door)
	require.NoError(t, err)
	assert.Zero(t, host.Calls("GetElement"))

	require.NoError(t, b.Close())

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "Door")
}

func TestBridge_StatsAndReset(t *testing.T) {
	frozen := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	host, b := newBridge(t, trestle.WithClock(func() time.Time { return frozen }))
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	_, err := b.ExecuteScript(context.Background(), `parameters.set(wall, "Height", 3000)`,
		map[string]domain.Value{"wall": domain.HandleOf(wall)})
	require.NoError(t, err)

	stats, err := b.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Runtime.Executions)
	assert.Equal(t, uint64(1), stats.Txn.Committed)
	assert.Equal(t, frozen, stats.CapturedAt)
	assert.NotZero(t, stats.HeapAlloc)

	require.NoError(t, b.ResetStats())
	stats, err = b.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Runtime.Executions)
	assert.Zero(t, stats.Txn.Committed)
}

func TestBridge_MemoryOptimizationDisabledSkipsSweeps(t *testing.T) {
	host := memory.NewHost()
	host.DefineType(domain.ElementDescriptor{TypeName: "Wall"})
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	cfg := domain.DefaultConfig()
	cfg.CacheTTL = time.Millisecond
	cfg.SweepInterval = 2 * time.Millisecond
	cfg.MemoryOptimization = false

	b, err := trestle.New(host, cfg)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Initialize(context.Background()))

	el, err := b.Elements()
	require.NoError(t, err)
	_, err = el.GetAttr(context.Background(), wall, "Height")
	require.NoError(t, err)

	// Long past the TTL and several sweep intervals the expired entry is
	// still resident: nothing is sweeping.
	time.Sleep(20 * time.Millisecond)
	s, err := b.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Elements.Cache.Entries)
}

func TestBridge_MemoryOptimizationSweepsExpiredEntries(t *testing.T) {
	host := memory.NewHost()
	host.DefineType(domain.ElementDescriptor{TypeName: "Wall"})
	wall := host.Seed("plan", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	cfg := domain.DefaultConfig()
	cfg.CacheTTL = time.Millisecond
	cfg.SweepInterval = 2 * time.Millisecond
	cfg.MemoryOptimization = true

	b, err := trestle.New(host, cfg)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Initialize(context.Background()))

	el, err := b.Elements()
	require.NoError(t, err)
	_, err = el.GetAttr(context.Background(), wall, "Height")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := b.Stats()
		return err == nil && s.Elements.Cache.Entries == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_OptimizeMemory(t *testing.T) {
	_, b := newBridge(t)
	require.NoError(t, b.OptimizeMemory())
}

func TestBridge_CloseIdempotent(t *testing.T) {
	_, b := newBridge(t)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.ExecuteScript(context.Background(), "1", nil)
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, b.Initialize(context.Background()), domain.ErrClosed)
}
