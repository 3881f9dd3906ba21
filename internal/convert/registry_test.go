package convert

import (
	"reflect"
	"testing"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHostRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, RegisterHostTypes(r))
	require.NoError(t, r.RegisterEnum("wall_kind", reflect.TypeOf(wallKind(0)), map[string]int64{
		"basic":   0,
		"curtain": 1,
		"stacked": 2,
	}))
	r.Freeze()
	return r
}

type wallKind int64

func TestToHost_Identity(t *testing.T) {
	r := newHostRegistry(t)

	out, err := r.ToHost(domain.Float(3.5), reflect.TypeOf(float64(0)))
	require.NoError(t, err)
	assert.Equal(t, 3.5, out)

	out, err = r.ToHost(domain.String("Wall"), reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, "Wall", out)
}

func TestToHost_Point(t *testing.T) {
	r := newHostRegistry(t)

	out, err := r.ToHost(domain.List(domain.Float(1), domain.Float(2), domain.Float(3)), reflect.TypeOf(domain.Point{}))
	require.NoError(t, err)
	assert.Equal(t, domain.Point{X: 1, Y: 2, Z: 3}, out)

	// Integers widen inside a point.
	out, err = r.ToHost(domain.List(domain.Int(1), domain.Int(2), domain.Int(3)), reflect.TypeOf(domain.Point{}))
	require.NoError(t, err)
	assert.Equal(t, domain.Point{X: 1, Y: 2, Z: 3}, out)

	_, err = r.ToHost(domain.List(domain.Float(1)), reflect.TypeOf(domain.Point{}))
	var convErr *domain.ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Contains(t, convErr.Error(), "3 coordinates")
}

func TestPointRoundTrip_Tolerance(t *testing.T) {
	r := newHostRegistry(t)
	in := []float64{1.000000001, -2.5, 3e6}

	v := domain.List(domain.Float(in[0]), domain.Float(in[1]), domain.Float(in[2]))
	host, err := r.ToHost(v, reflect.TypeOf(domain.Point{}))
	require.NoError(t, err)

	back, err := r.ToDynamic(host, false)
	require.NoError(t, err)
	require.Equal(t, 3, back.Len())
	for i, item := range back.ListItems() {
		assert.InDelta(t, in[i], item.Float(), 1e-9)
	}
}

func TestWellKnownRoundTrips(t *testing.T) {
	r := newHostRegistry(t)

	cases := []struct {
		name   string
		value  domain.Value
		target reflect.Type
	}{
		{
			name: "transform",
			value: domain.List(
				domain.Float(1), domain.Float(0), domain.Float(0),
				domain.Float(0), domain.Float(0.5), domain.Float(-0.5),
				domain.Float(0), domain.Float(0.5), domain.Float(0.5),
				domain.Float(10.25), domain.Float(-4.5), domain.Float(0.75),
			),
			target: reflect.TypeOf(domain.Transform{}),
		},
		{
			name: "color",
			value: domain.MapOf(
				"r", domain.Int(255),
				"g", domain.Int(128),
				"b", domain.Int(0),
			),
			target: reflect.TypeOf(domain.Color{}),
		},
		{
			name:   "identifier",
			value:  domain.Int(4211),
			target: reflect.TypeOf(domain.ElementID(0)),
		},
		{
			name: "bounding_box",
			value: domain.MapOf(
				"min", domain.List(domain.Float(-1.5), domain.Float(-2.5), domain.Float(0)),
				"max", domain.List(domain.Float(3.5), domain.Float(4.5), domain.Float(6)),
			),
			target: reflect.TypeOf(domain.BoundingBox{}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, err := r.ToHost(tc.value, tc.target)
			require.NoError(t, err)

			back, err := r.ToDynamic(host, false)
			require.NoError(t, err)
			assert.Equal(t, tc.value, back)
		})
	}
}

func TestToHost_NullableUnwrap(t *testing.T) {
	r := newHostRegistry(t)
	ptrType := reflect.TypeOf((*float64)(nil))

	out, err := r.ToHost(domain.NilValue, ptrType)
	require.NoError(t, err)
	assert.Nil(t, out.(*float64))

	out, err = r.ToHost(domain.Float(7), ptrType)
	require.NoError(t, err)
	require.NotNil(t, out.(*float64))
	assert.Equal(t, 7.0, *out.(*float64))
}

func TestToHost_EnumParsing(t *testing.T) {
	r := newHostRegistry(t)
	target := reflect.TypeOf(wallKind(0))

	out, err := r.ToHost(domain.String("curtain"), target)
	require.NoError(t, err)
	assert.Equal(t, wallKind(1), out)

	out, err = r.ToHost(domain.Int(2), target)
	require.NoError(t, err)
	assert.Equal(t, wallKind(2), out)

	_, err = r.ToHost(domain.String("bogus"), target)
	var convErr *domain.ConversionError
	require.ErrorAs(t, err, &convErr)

	_, err = r.ToHost(domain.Int(99), target)
	require.ErrorAs(t, err, &convErr)
}

func TestToDynamic_EnumRendering(t *testing.T) {
	r := newHostRegistry(t)

	v, err := r.ToDynamic(wallKind(1), false)
	require.NoError(t, err)
	assert.Equal(t, domain.String("curtain"), v)

	tagged, err := r.ToDynamic(wallKind(1), true)
	require.NoError(t, err)
	typ, ok := tagged.Get("__type")
	require.True(t, ok)
	assert.Equal(t, "wall_kind", typ.Str())

	// Tagged form parses back.
	out, err := r.ToHost(tagged, reflect.TypeOf(wallKind(0)))
	require.NoError(t, err)
	assert.Equal(t, wallKind(1), out)
}

func TestToHost_SliceElementwise(t *testing.T) {
	r := newHostRegistry(t)

	out, err := r.ToHost(
		domain.List(domain.Float(1), domain.Float(2)),
		reflect.TypeOf([]float64(nil)),
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out)

	_, err = r.ToHost(
		domain.List(domain.Float(1), domain.String("x")),
		reflect.TypeOf([]float64(nil)),
	)
	var convErr *domain.ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Contains(t, convErr.Error(), "element 1")
}

func TestToHost_BridgeableBinding(t *testing.T) {
	r := newHostRegistry(t)

	box := domain.Map()
	minV := domain.List(domain.Float(0), domain.Float(0), domain.Float(0))
	maxV := domain.List(domain.Float(1), domain.Float(2), domain.Float(3))
	box.Set("min", minV)
	box.Set("max", maxV)
	// Unmapped keys are skipped, not fatal.
	box.Set("colour", domain.String("red"))

	out, err := r.ToHost(box, reflect.TypeOf(domain.BoundingBox{}))
	require.NoError(t, err)
	assert.Equal(t, domain.BoundingBox{
		Min: domain.Point{},
		Max: domain.Point{X: 1, Y: 2, Z: 3},
	}, out)
}

func TestToDynamic_BindingOrderedMap(t *testing.T) {
	r := newHostRegistry(t)

	v, err := r.ToDynamic(domain.BoundingBox{Max: domain.Point{X: 1}}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"min", "max"}, v.Keys())

	tagged, err := r.ToDynamic(domain.BoundingBox{}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"__type", "min", "max"}, tagged.Keys())
}

func TestToHost_GenericCoercion(t *testing.T) {
	r := newHostRegistry(t)

	out, err := r.ToHost(domain.String("42"), reflect.TypeOf(int(0)))
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = r.ToHost(domain.Float(2.9), reflect.TypeOf(int64(0)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), out)

	_, err = r.ToHost(domain.List(), reflect.TypeOf(int(0)))
	var convErr *domain.ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Contains(t, convErr.Error(), "cannot convert list")
}

func TestCanConvert(t *testing.T) {
	r := newHostRegistry(t)

	assert.True(t, r.CanConvert(domain.KindList, reflect.TypeOf(domain.Point{})))
	assert.True(t, r.CanConvert(domain.KindMap, reflect.TypeOf(domain.BoundingBox{})))
	assert.True(t, r.CanConvert(domain.KindString, reflect.TypeOf(wallKind(0))))
	assert.True(t, r.CanConvert(domain.KindFloat, reflect.TypeOf(float64(0))))
	assert.False(t, r.CanConvert(domain.KindHandle, reflect.TypeOf(float64(0))))
}

func TestRegistry_FrozenRejectsRegistration(t *testing.T) {
	r := NewRegistry(nil)
	r.Freeze()

	err := r.RegisterRule(domain.KindInt, reflect.TypeOf(int64(0)), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")
}

func TestRegistry_StatsCounting(t *testing.T) {
	r := newHostRegistry(t)

	_, _ = r.ToHost(domain.Float(1), reflect.TypeOf(float64(0)))
	_, _ = r.ToHost(domain.List(), reflect.TypeOf(domain.Point{}))
	_, _ = r.ToDynamic(domain.Point{}, false)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.ToHostOK)
	assert.Equal(t, uint64(1), stats.ToHostFail)
	assert.Equal(t, uint64(1), stats.ToDynamicOK)
	assert.NotEmpty(t, stats.PairCounts)

	r.ResetStats()
	stats = r.Stats()
	assert.Zero(t, stats.ToHostOK)
	assert.Zero(t, stats.ToHostFail)
}
