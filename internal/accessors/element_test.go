package accessors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/trestle/internal/accessors"
	"github.com/aretw0/trestle/internal/adapters/memory"
	"github.com/aretw0/trestle/internal/txn"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newElementFixture(t *testing.T) (*memory.Host, *accessors.Element, *txn.Coordinator) {
	t.Helper()
	host := memory.NewHost()
	coord := txn.NewCoordinator(host)
	acc := accessors.NewElement(host, coord, domain.DefaultConfig(), nil)
	return host, acc, coord
}

func TestElement_GetAttr_CachesHostReads(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	wall := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})
	ctx := context.Background()

	v, err := acc.GetAttr(ctx, wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(2500), v)
	assert.Equal(t, 1, host.Calls("GetAttribute"))

	// Second read is a cache hit: no extra host round trip.
	v, err = acc.GetAttr(ctx, wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(2500), v)
	assert.Equal(t, 1, host.Calls("GetAttribute"))

	stats := acc.Stats()
	assert.Equal(t, uint64(1), stats.Cache.Hits)
	assert.Equal(t, uint64(1), stats.Cache.Misses)
}

func TestElement_SetThenGet_IsCacheHit(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	wall := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})
	ctx := context.Background()
	ec := txn.NewContext()

	require.NoError(t, acc.SetAttr(ctx, ec, wall, "Height", domain.Float(3000)))

	// The write went through a transaction and landed on the host.
	raw, err := host.GetAttribute(ctx, wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(3000), raw)

	// An immediate read is served from cache, not the host.
	before := host.Calls("GetAttribute")
	v, err := acc.GetAttr(ctx, wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(3000), v)
	assert.Equal(t, before, host.Calls("GetAttribute"))
	assert.Equal(t, uint64(1), acc.Stats().Cache.Hits)
}

func TestElement_FailedSet_LeavesCacheIntact(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	wall := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})
	ctx := context.Background()
	ec := txn.NewContext()

	// Prime the cache with the current value.
	_, err := acc.GetAttr(ctx, wall, "Height")
	require.NoError(t, err)

	host.FailNext("SetAttribute", errors.New("locked"))
	err = acc.SetAttr(ctx, ec, wall, "Height", domain.Float(9000))
	require.Error(t, err)

	// Fail closed: the cache still holds the committed value.
	v, err := acc.GetAttr(ctx, wall, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(2500), v)
}

func TestElement_GetMany_MixesCachedAndFetched(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	ctx := context.Background()
	w1 := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(1)})
	w2 := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(2)})
	w3 := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(3)})

	// Prime one key.
	_, err := acc.GetAttr(ctx, w1, "Height")
	require.NoError(t, err)
	calls := host.Calls("GetAttribute")

	results, err := acc.GetMany(ctx, []accessors.AttrRequest{
		{Handle: w1, Attr: "Height"},
		{Handle: w2, Attr: "Height"},
		{Handle: w3, Attr: "Height"},
		{Handle: domain.Handle{Document: "doc", Element: "404"}, Attr: "Height"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, domain.Float(1), results[0].Value)
	assert.Equal(t, domain.Float(2), results[1].Value)
	assert.Equal(t, domain.Float(3), results[2].Value)

	// Partial failure is captured per key, not surfaced as a batch
	// error.
	var hostErr *domain.HostError
	require.ErrorAs(t, results[3].Err, &hostErr)

	// The primed key was served from cache.
	assert.Equal(t, calls+3, host.Calls("GetAttribute"))
}

func TestElement_GetMany_CancelledContext(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	wall := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := acc.GetMany(ctx, []accessors.AttrRequest{{Handle: wall, Attr: "Height"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestElement_SetMany_SingleTransactionPerKeyResults(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	ctx := context.Background()
	ec := txn.NewContext()
	w1 := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(1)})
	w2 := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(2)})

	host.FailNext("SetAttribute", errors.New("element locked"))
	results, err := acc.SetMany(ctx, ec, []accessors.AttrWrite{
		{Handle: w1, Attr: "Height", Value: domain.Float(100)},
		{Handle: w2, Attr: "Height", Value: domain.Float(200)},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// First write failed per key; the second landed and committed.
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)

	v, err := host.GetAttribute(ctx, w1, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(1), v)
	v, err = host.GetAttribute(ctx, w2, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(200), v)

	// Exactly one transaction wrapped the batch.
	assert.Equal(t, 1, host.Calls("BeginTransaction"))
	assert.Equal(t, 1, host.Calls("CommitTransaction"))
}

func TestElement_SetMany_CancellationRollsBackEverything(t *testing.T) {
	host, acc, coord := newElementFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	ec := txn.NewContext()
	w1 := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(1)})

	cancel()
	_, err := acc.SetMany(ctx, ec, []accessors.AttrWrite{
		{Handle: w1, Attr: "Height", Value: domain.Float(100)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// AutoRollback left the document untouched.
	v, err := host.GetAttribute(context.Background(), w1, "Height")
	require.NoError(t, err)
	assert.Equal(t, domain.Float(1), v)
	assert.Equal(t, uint64(1), coord.Stats().RolledBack)
}

func TestElement_CreateQueryDelete(t *testing.T) {
	_, acc, _ := newElementFixture(t)
	ctx := context.Background()
	ec := txn.NewContext()

	wall, err := acc.Create(ctx, ec, "doc", "Wall", map[string]domain.Value{
		"Height": domain.Float(2500),
		"Rated":  domain.Bool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "Wall", wall.Type)

	handles, err := acc.Query(ctx, "doc", ports.ElementFilter{
		Type:  "Wall",
		Where: map[string]domain.Value{"Rated": domain.Bool(true)},
	})
	require.NoError(t, err)
	assert.Len(t, handles, 1)

	dup, err := acc.Copy(ctx, ec, wall)
	require.NoError(t, err)
	assert.NotEqual(t, wall.Element, dup.Element)

	require.NoError(t, acc.Delete(ctx, ec, wall))
	handles, err = acc.All(ctx, "doc", "Wall")
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}

func TestElement_Delete_InvalidatesCachedAttributes(t *testing.T) {
	host, acc, _ := newElementFixture(t)
	ctx := context.Background()
	ec := txn.NewContext()
	wall := host.Seed("doc", "Wall", map[string]domain.Value{"Height": domain.Float(2500)})

	_, err := acc.GetAttr(ctx, wall, "Height")
	require.NoError(t, err)
	require.NoError(t, acc.Delete(ctx, ec, wall))

	// The stale entry is gone: the next read reaches the host and
	// reports the element missing.
	_, err = acc.GetAttr(ctx, wall, "Height")
	require.Error(t, err)
}
