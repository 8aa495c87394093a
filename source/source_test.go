package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flog "github.com/flowbus/flowbus/log"
	"github.com/flowbus/flowbus/record"
	"github.com/flowbus/flowbus/store"
)

func openTestLog(t *testing.T) flog.Log {
	t.Helper()
	l, err := flog.Open(flog.Config{DataDir: t.TempDir(), NumPartitions: 1, MaxSegmentSize: 1 << 20}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestSourceDeliversInOrderAndCommits(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, &record.Record{ID: record.NewID(), Key: []byte("k"), Value: []byte("v")}))
	}

	offsetStore := store.NewMemOffsetStore()

	var mu sync.Mutex
	var got []int64
	emit := func(_ context.Context, r *record.Record) error {
		mu.Lock()
		got = append(got, r.Offset)
		mu.Unlock()
		return nil
	}

	src := New(Config{Group: "g1", PollInterval: 10 * time.Millisecond}, l, offsetStore, emit, nil)
	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		src.Run(runCtx, []int32{0})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 250*time.Millisecond, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, off := range got {
		assert.Equal(t, int64(i), off)
	}

	committed, err := offsetStore.Get(ctx, "g1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), committed)
}

func TestSourceResumesFromCommittedOffset(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(ctx, &record.Record{ID: record.NewID(), Key: []byte("k"), Value: []byte("v")}))
	}

	offsetStore := store.NewMemOffsetStore()
	require.NoError(t, offsetStore.Commit(ctx, "g1", 0, 2))

	var mu sync.Mutex
	var got []int64
	emit := func(_ context.Context, r *record.Record) error {
		mu.Lock()
		got = append(got, r.Offset)
		mu.Unlock()
		return nil
	}

	src := New(Config{Group: "g1", PollInterval: 10 * time.Millisecond}, l, offsetStore, emit, nil)
	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	src.Run(runCtx, []int32{0})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0])
}

func TestSourceStopsPartitionOnEmitError(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, &record.Record{ID: record.NewID(), Key: []byte("k"), Value: []byte("v")}))

	offsetStore := store.NewMemOffsetStore()
	calls := 0
	emit := func(_ context.Context, r *record.Record) error {
		calls++
		return assert.AnError
	}

	src := New(Config{Group: "g1", PollInterval: 5 * time.Millisecond}, l, offsetStore, emit, nil)
	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	src.Run(runCtx, []int32{0})

	assert.Equal(t, 1, calls, "a failing emit must not advance past the failed record")
	committed, err := offsetStore.Get(ctx, "g1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), committed, "offset must not be committed when emit fails")
}
