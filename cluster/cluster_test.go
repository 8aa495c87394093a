package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbus/flowbus/store"
)

func TestTryAcquireLeadershipFirstCallerWins(t *testing.T) {
	kv := store.NewMemKVStore()
	a := New(Config{}, Node{ID: "node-a"}, kv, nil)
	b := New(Config{}, Node{ID: "node-b"}, kv, nil)
	ctx := context.Background()

	won, err := a.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = b.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	assert.False(t, won, "a second node must not win leadership already held")

	leader, ok, err := b.GetLeader(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-a", leader)
}

func TestTryAcquireLeadershipIsIdempotentForHolder(t *testing.T) {
	kv := store.NewMemKVStore()
	a := New(Config{}, Node{ID: "node-a"}, kv, nil)
	ctx := context.Background()

	won, err := a.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	require.True(t, won)

	won, err = a.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	assert.True(t, won, "the existing holder re-affirming leadership must succeed")
}

func TestReleasePartitionAllowsTakeover(t *testing.T) {
	kv := store.NewMemKVStore()
	a := New(Config{}, Node{ID: "node-a"}, kv, nil)
	b := New(Config{}, Node{ID: "node-b"}, kv, nil)
	ctx := context.Background()

	_, err := a.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, a.ReleasePartition(ctx, 0))

	won, err := b.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestTryAcquireLeadershipExpiresAndAllowsTakeoverWithoutRelease(t *testing.T) {
	kv := store.NewMemKVStore()
	a := New(Config{LeadershipTTL: time.Second}, Node{ID: "node-a"}, kv, nil)
	b := New(Config{LeadershipTTL: time.Second}, Node{ID: "node-b"}, kv, nil)
	ctx := context.Background()

	won, err := a.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	require.True(t, won)

	// node-a crashes without calling ReleasePartition. Once the leadership
	// key's TTL elapses, another node must be able to take over.
	time.Sleep(1500 * time.Millisecond)

	won, err = b.TryAcquireLeadership(ctx, 0)
	require.NoError(t, err)
	assert.True(t, won, "an unreleased leadership claim must expire and become acquirable")
}

func TestGetOtherNodesExcludesSelf(t *testing.T) {
	kv := store.NewMemKVStore()
	a := New(Config{HeartbeatInterval: 10 * time.Millisecond}, Node{ID: "node-a", Host: "h1", Port: 1}, kv, nil)
	b := New(Config{}, Node{ID: "node-b", Host: "h2", Port: 2}, kv, nil)
	ctx := context.Background()

	a.heartbeat(ctx)
	b.heartbeat(ctx)

	others, err := a.GetOtherNodes(ctx)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "node-b", others[0].ID)
}

func TestStatusReflectsHeldPartitions(t *testing.T) {
	kv := store.NewMemKVStore()
	a := New(Config{}, Node{ID: "node-a"}, kv, nil)
	ctx := context.Background()

	_, err := a.TryAcquireLeadership(ctx, 3)
	require.NoError(t, err)

	st := a.Status()
	assert.True(t, st.IsLeader[3])
	assert.False(t, st.IsLeader[4])
}
