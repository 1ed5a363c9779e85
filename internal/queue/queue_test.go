package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoarch/go-auth-store/internal/orchestrator"
)

func TestInProcessQueueDeliversEveryJobToHandler(t *testing.T) {
	var processed int64
	var mu sync.Mutex
	seen := map[string]bool{}

	q := New(Config{WorkerCount: 4, QueueSize: 100, StopTimeout: time.Second}, func(ctx context.Context, payload orchestrator.QueueJobPayload) error {
		atomic.AddInt64(&processed, 1)
		mu.Lock()
		seen[string(payload.SessionId)] = true
		mu.Unlock()
		return nil
	}, nil)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Add(ctx, "persist", orchestrator.QueueJobPayload{
			SessionId: "s", Version: uint64(i),
		}))
	}
	require.NoError(t, q.Close(ctx))
	assert.Equal(t, int64(20), atomic.LoadInt64(&processed))
}

func TestInProcessQueueAddRejectsWhenFull(t *testing.T) {
	blockCh := make(chan struct{})
	q := New(Config{WorkerCount: 1, QueueSize: 1, StopTimeout: time.Second}, func(ctx context.Context, payload orchestrator.QueueJobPayload) error {
		<-blockCh
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, q.Add(ctx, "persist", orchestrator.QueueJobPayload{Version: 1}))
	require.NoError(t, q.Add(ctx, "persist", orchestrator.QueueJobPayload{Version: 2}))

	err := q.Add(ctx, "persist", orchestrator.QueueJobPayload{Version: 3})
	assert.Error(t, err)

	close(blockCh)
	_ = q.Close(ctx)
}

func TestInProcessQueueHandlerErrorDoesNotStopWorker(t *testing.T) {
	var processed int64
	q := New(Config{WorkerCount: 1, QueueSize: 10, StopTimeout: time.Second}, func(ctx context.Context, payload orchestrator.QueueJobPayload) error {
		atomic.AddInt64(&processed, 1)
		if payload.Version == 1 {
			return errors.New("simulated failure")
		}
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, q.Add(ctx, "persist", orchestrator.QueueJobPayload{Version: 1}))
	require.NoError(t, q.Add(ctx, "persist", orchestrator.QueueJobPayload{Version: 2}))
	require.NoError(t, q.Close(ctx))

	assert.Equal(t, int64(2), atomic.LoadInt64(&processed))
}
