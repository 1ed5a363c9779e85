package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoarch/go-auth-store/internal/authstate"
	"github.com/luoarch/go-auth-store/internal/breaker"
	"github.com/luoarch/go-auth-store/internal/fasttier"
	"github.com/luoarch/go-auth-store/internal/locktable"
	"github.com/luoarch/go-auth-store/internal/outbox"
)

// newTestOutbox constructs an outbox.Store sharing the fast tier's redis
// client handle, mirroring what Connect wires automatically when
// write-behind and a queue are both configured.
func newTestOutbox(t *testing.T, fast fasttier.Store) *outbox.Store {
	t.Helper()
	client, ok := asRedisClient(fast.Client())
	require.True(t, ok)
	return outbox.New(client, nil)
}

type fakeDurable struct {
	mu      sync.Mutex
	store   map[authstate.SessionId]authstate.Versioned[authstate.AuthSnapshot]
	fail    bool
	healthy bool
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{store: map[authstate.SessionId]authstate.Versioned[authstate.AuthSnapshot]{}, healthy: true}
}

func (f *fakeDurable) Get(ctx context.Context, id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, errors.New("durable unreachable")
	}
	v, ok := f.store[id]
	return v, ok, nil
}

func (f *fakeDurable) Upsert(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion uint64, fencingToken string) (authstate.VersionedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return authstate.VersionedResult{}, errors.New("durable unreachable")
	}
	base := f.store[id]
	merged := authstate.Merge(base.Data, patch)
	now := time.Now().UTC()
	newVersion := expectedVersion + 1
	f.store[id] = authstate.Versioned[authstate.AuthSnapshot]{Data: merged, Version: newVersion, UpdatedAt: now}
	return authstate.VersionedResult{Version: newVersion, UpdatedAt: now, Success: true}, nil
}

func (f *fakeDurable) Delete(ctx context.Context, id authstate.SessionId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("durable unreachable")
	}
	delete(f.store, id)
	return nil
}

func (f *fakeDurable) Touch(ctx context.Context, id authstate.SessionId, ttl time.Duration) error {
	if f.fail {
		return errors.New("durable unreachable")
	}
	return nil
}

func (f *fakeDurable) Exists(ctx context.Context, id authstate.SessionId) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.store[id]
	return ok, nil
}

func (f *fakeDurable) IsHealthy(ctx context.Context) bool { return f.healthy && !f.fail }
func (f *fakeDurable) Close() error                       { return nil }

type fakeQueue struct {
	mu       sync.Mutex
	fail     bool
	payloads []QueueJobPayload
}

func (q *fakeQueue) Add(ctx context.Context, jobName string, payload QueueJobPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue unavailable")
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *fakeQueue) Close(ctx context.Context) error { return nil }

func setupTestFast(t *testing.T) fasttier.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return fasttier.NewRedisStoreFromClient(client, &fasttier.Config{
		KeyPrefix: "authstate", DefaultTTL: time.Hour, CASMaxAttempts: 10,
	}, nil)
}

func newTestOrchestrator(fast fasttier.Store, durable *fakeDurable, queue QueueAdapter, writeBehind bool) *Orchestrator {
	cfg := DefaultConfig()
	cfg.EnableWriteBehind = writeBehind
	br := breaker.New("durable-tier", breaker.DefaultConfig(), nil, nil)
	locks := locktable.New(100, time.Minute)
	return New(cfg, fast, durable, br, locks, queue, nil, nil)
}

func TestGetReturnsFastTierHitWithoutTouchingDurable(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	id := authstate.SessionId("s1")
	_, err := o.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "b"}}, nil, "")
	require.NoError(t, err)

	snap, found, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", snap.Data.Creds["a"])
}

func TestGetFallsBackToDurableAndWarmsCache(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	durable.store["s2"] = authstate.Versioned[authstate.AuthSnapshot]{
		Data: authstate.AuthSnapshot{Creds: map[string]any{"x": "y"}}, Version: 3, UpdatedAt: time.Now().UTC(),
	}
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	snap, found, err := o.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "y", snap.Data.Creds["x"])

	require.Eventually(t, func() bool {
		_, ok, _ := fast.Get(ctx, "s2")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestGetDegradesToMissWhenDurableFails(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	durable.fail = true
	o := newTestOrchestrator(fast, durable, nil, false)

	snap, found, err := o.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, authstate.Versioned[authstate.AuthSnapshot]{}, snap)
}

func TestSetWriteThroughWritesDurableSynchronously(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	result, err := o.Set(ctx, "s3", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, "")
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, found, _ := durable.Get(ctx, "s3")
	assert.True(t, found)
}

func TestSetWriteBehindEnqueuesJobWithoutBlockingOnDurable(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	q := &fakeQueue{}
	o := newTestOrchestrator(fast, durable, q, true)
	o.outboxStore = newTestOutbox(t, fast)

	ctx := context.Background()
	_, err := o.Set(ctx, "s4", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, "")
	require.NoError(t, err)

	assert.Len(t, q.payloads, 1)
	_, found, _ := durable.Get(ctx, "s4")
	assert.False(t, found, "write-behind must not write durable synchronously on the happy path")
}

func TestSetWriteBehindFallsBackToDirectWriteOnQueueFailure(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	q := &fakeQueue{fail: true}
	o := newTestOrchestrator(fast, durable, q, true)
	o.outboxStore = newTestOutbox(t, fast)

	ctx := context.Background()
	_, err := o.Set(ctx, "s5", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, "")
	require.NoError(t, err)

	_, found, _ := durable.Get(ctx, "s5")
	assert.True(t, found, "queue failure must fall back to a direct durable write")
}

func TestSetPropagatesVersionConflictUnchanged(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	_, err := o.Set(ctx, "s6", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, "")
	require.NoError(t, err)

	stale := uint64(0)
	_, err = o.Set(ctx, "s6", authstate.AuthPatch{Creds: map[string]any{"a": 2}}, &stale, "")
	assert.True(t, authstate.IsVersionConflict(err))
}

func TestDeletePartialSuccessStillReportsSuccess(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	durable.fail = true
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	_, err := o.Set(ctx, "s7", authstate.AuthPatch{}, nil, "")
	_ = err

	err = o.Delete(ctx, "s7")
	assert.NoError(t, err)
}

func TestExistsShortCircuitsOnFastTierHit(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	durable.fail = true
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	_, err := fast.Set(ctx, "s8", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, time.Hour)
	require.NoError(t, err)

	ok, err := o.Exists(ctx, "s8")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchGetReturnsOneResultPerSession(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	_, err := o.Set(ctx, "b1", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, "")
	require.NoError(t, err)

	results := o.BatchGet(ctx, []authstate.SessionId{"b1", "missing"})
	require.Len(t, results, 2)
	assert.True(t, results[0].Found)
	assert.False(t, results[1].Found)
}

func TestBatchDeleteReturnsOneResultPerSession(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	ctx := context.Background()
	_, err := o.Set(ctx, "bd1", authstate.AuthPatch{Creds: map[string]any{"a": 1}}, nil, "")
	require.NoError(t, err)

	results := o.BatchDelete(ctx, []authstate.SessionId{"bd1", "bd2"})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func TestGetMetricsTextReturnsEmptyWithoutMetricsConfigured(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	text, err := o.GetMetricsText()
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestIsHealthyRequiresConnectedAndBothTiers(t *testing.T) {
	fast := setupTestFast(t)
	durable := newFakeDurable()
	o := newTestOrchestrator(fast, durable, nil, false)

	assert.False(t, o.IsHealthy(context.Background()))

	o.mu.Lock()
	o.connected = true
	o.mu.Unlock()
	assert.True(t, o.IsHealthy(context.Background()))
}
