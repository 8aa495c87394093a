package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemOffsetStoreDefaultThenCommit(t *testing.T) {
	s := NewMemOffsetStore()
	ctx := context.Background()

	off, err := s.Get(ctx, "g1", 0, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), off)

	require.NoError(t, s.Commit(ctx, "g1", 0, 7))
	off, err = s.Get(ctx, "g1", 0, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), off)

	// A different partition is independent.
	off, err = s.Get(ctx, "g1", 1, 99)
	require.NoError(t, err)
	assert.Equal(t, int64(99), off)
}

func TestMemDedupStoreHasProcessedThenMark(t *testing.T) {
	s := NewMemDedupStore(10)
	ctx := context.Background()

	seen, err := s.HasProcessed(ctx, "g1", "rec-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, "g1", "rec-1", 60))

	seen, err = s.HasProcessed(ctx, "g1", "rec-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Different group, same ID: independent namespace.
	seen, err = s.HasProcessed(ctx, "g2", "rec-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemLeaseManagerExclusiveUntilExpiry(t *testing.T) {
	m := NewMemLeaseManager().(*memLeaseManager)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "g1", 0, "worker-a", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, "g1", 0, "worker-b", 60)
	require.NoError(t, err)
	assert.False(t, ok, "a live lease should not be stealable by another owner")

	ok, err = m.Acquire(ctx, "g1", 0, "worker-a", 60)
	require.NoError(t, err)
	assert.True(t, ok, "the current owner must be able to renew")

	require.NoError(t, m.Release(ctx, "g1", 0, "worker-a"))
	ok, err = m.Acquire(ctx, "g1", 0, "worker-b", 60)
	require.NoError(t, err)
	assert.True(t, ok, "after release, another owner may acquire")
}

func TestMemLeaseManagerExpiredLeaseIsStealable(t *testing.T) {
	m := NewMemLeaseManager().(*memLeaseManager)
	fake := &fakeClock{}
	m.now = fake.Now
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "g1", 0, "worker-a", 10)
	require.NoError(t, err)
	require.True(t, ok)

	fake.advance(11)
	ok, err = m.Acquire(ctx, "g1", 0, "worker-b", 10)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lease must be acquirable by a new owner")
}

func TestMemKVStoreCompareAndSwap(t *testing.T) {
	s := NewMemKVStore()
	ctx := context.Background()

	_, _, ok, err := s.Get(ctx, "leader")
	require.NoError(t, err)
	assert.False(t, ok)

	v1, ok, err := s.CompareAndSwap(ctx, "leader", "node-a", 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v1)

	_, ok, err = s.CompareAndSwap(ctx, "leader", "node-b", 0, 0)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected version must be rejected")

	v2, ok, err := s.CompareAndSwap(ctx, "leader", "node-b", v1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), v2)

	val, version, ok, err := s.Get(ctx, "leader")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-b", val)
	assert.Equal(t, int64(2), version)
}

func TestMemKVStoreCompareAndSwapTTLExpires(t *testing.T) {
	s := NewMemKVStore().(*memKVStore)
	fake := &fakeClock{}
	s.now = fake.Now
	ctx := context.Background()

	v1, ok, err := s.CompareAndSwap(ctx, "leader", "node-a", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v1)

	fake.advance(6)
	_, _, ok, err = s.Get(ctx, "leader")
	require.NoError(t, err)
	assert.False(t, ok, "an unreleased CAS key must expire once its TTL elapses")

	// Expired, so the next caller can win with expectedVersion 0.
	v2, ok, err := s.CompareAndSwap(ctx, "leader", "node-b", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v2)
}

func TestMemKVStoreListPrefix(t *testing.T) {
	s := NewMemKVStore()
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "nodes/a", "alive", 60))
	require.NoError(t, s.SetWithTTL(ctx, "nodes/b", "alive", 60))
	require.NoError(t, s.SetWithTTL(ctx, "other/c", "alive", 60))

	found, err := s.ListPrefix(ctx, "nodes/")
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "alive", found["nodes/a"])
}

func TestMemKVStoreSetWithTTLExpires(t *testing.T) {
	s := NewMemKVStore().(*memKVStore)
	fake := &fakeClock{}
	s.now = fake.Now
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "heartbeat/a", "alive", 5))
	_, _, ok, err := s.Get(ctx, "heartbeat/a")
	require.NoError(t, err)
	assert.True(t, ok)

	fake.advance(6)
	_, _, ok, err = s.Get(ctx, "heartbeat/a")
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire after its TTL elapses")
}
