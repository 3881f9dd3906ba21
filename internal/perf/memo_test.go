package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemo_GetOrComputeCachesByKey(t *testing.T) {
	m := NewMemo(16)
	computed := 0
	compute := func() (domain.Value, error) {
		computed++
		return domain.Float(42), nil
	}

	v, cached, err := m.GetOrCompute(1, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, domain.Float(42), v)

	v, cached, err = m.GetOrCompute(1, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, domain.Float(42), v)
	assert.Equal(t, 1, computed)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestMemo_ComputeErrorNotCached(t *testing.T) {
	m := NewMemo(16)
	boom := errors.New("boom")

	_, _, err := m.GetOrCompute(1, func() (domain.Value, error) {
		return domain.Value{}, boom
	})
	require.ErrorIs(t, err, boom)

	// The failure was not stored: the next call computes again.
	v, cached, err := m.GetOrCompute(1, func() (domain.Value, error) {
		return domain.Float(1), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, domain.Float(1), v)
}

func TestMemo_SweepDropsIdleEntries(t *testing.T) {
	m := NewMemo(16)
	now := time.Now()
	m.clock = func() time.Time { return now }

	_, _, err := m.GetOrCompute(1, func() (domain.Value, error) { return domain.Float(1), nil })
	require.NoError(t, err)
	_, _, err = m.GetOrCompute(2, func() (domain.Value, error) { return domain.Float(2), nil })
	require.NoError(t, err)

	// Touch key 1 later so only key 2 goes idle.
	now = now.Add(memoIdleAfter)
	_, cached, err := m.GetOrCompute(1, func() (domain.Value, error) { return domain.Value{}, errors.New("unreachable") })
	require.NoError(t, err)
	assert.True(t, cached)

	now = now.Add(time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Stats().Entries)
}

func TestMemo_CapacityEvictsBeforeInsert(t *testing.T) {
	m := NewMemo(2)
	now := time.Now()
	m.clock = func() time.Time { return now }

	for key := uint64(1); key <= 2; key++ {
		_, _, err := m.GetOrCompute(key, func() (domain.Value, error) { return domain.Float(1), nil })
		require.NoError(t, err)
		now = now.Add(time.Second)
	}

	_, _, err := m.GetOrCompute(3, func() (domain.Value, error) { return domain.Float(3), nil })
	require.NoError(t, err)
	assert.LessOrEqual(t, m.Stats().Entries, 2)

	// The newest insert survives the eviction that made room for it.
	_, cached, err := m.GetOrCompute(3, func() (domain.Value, error) { return domain.Value{}, errors.New("unreachable") })
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestMemo_Clear(t *testing.T) {
	m := NewMemo(16)
	_, _, err := m.GetOrCompute(1, func() (domain.Value, error) { return domain.Float(1), nil })
	require.NoError(t, err)

	m.Clear()
	assert.Zero(t, m.Stats().Entries)
}
