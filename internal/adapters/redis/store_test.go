package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trestle/internal/adapters/redis"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

func newStore(t *testing.T) (*miniredis.Miniredis, *redis.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func wallDescriptor() domain.ElementDescriptor {
	min, max := 100.0, 10000.0
	return domain.ElementDescriptor{
		TypeName: "Wall",
		Category: "Structure",
		Parameters: []domain.ParameterDescriptor{
			{Name: "Height", Type: domain.ParamLength, Min: &min, Max: &max},
			{Name: "Mark", Type: domain.ParamText, MaxLen: 16},
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, wallDescriptor()))

	got, err := store.Load(ctx, "Wall")
	require.NoError(t, err)
	assert.Equal(t, wallDescriptor(), got)
}

func TestStore_LoadMissing(t *testing.T) {
	_, store := newStore(t)

	_, err := store.Load(context.Background(), "Door")
	assert.ErrorIs(t, err, ports.ErrDescriptorNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, wallDescriptor()))
	require.NoError(t, store.Save(ctx, domain.ElementDescriptor{TypeName: "Door"}))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Wall", "Door"}, names)

	require.NoError(t, store.Delete(ctx, "Door"))
	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Wall"}, names)
}

func TestStore_TTLPrunesIndex(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, redis.WithTTL(time.Minute))
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, wallDescriptor()))
	mr.FastForward(2 * time.Minute)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Load(ctx, "Wall")
	assert.ErrorIs(t, err, ports.ErrDescriptorNotFound)
}

func TestStore_CustomPrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	a := redis.NewFromClient(client, redis.WithPrefix("bridge-a:"))
	b := redis.NewFromClient(client, redis.WithPrefix("bridge-b:"))
	ctx := context.Background()

	require.NoError(t, a.Save(ctx, wallDescriptor()))

	names, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
