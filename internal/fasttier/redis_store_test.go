package fasttier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := &Config{
		Addr:           mr.Addr(),
		DB:             0,
		PoolSize:       5,
		DialTimeout:    time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		DefaultTTL:     time.Hour,
		KeyPrefix:      "authstate",
		CASMaxAttempts: 10,
	}

	store, err := NewRedisStore(config, nil)
	require.NoError(t, err)

	return store, mr
}

func TestRedisStoreSetThenGetRoundTrips(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("s1")

	result, err := store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"registrationId": float64(1)}}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Version)

	versioned, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), versioned.Version)
	assert.Equal(t, float64(1), versioned.Data.Creds["registrationId"])
}

func TestRedisStoreGetMissingReturnsNotFound(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	_, found, err := store.Get(context.Background(), authstate.SessionId("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreSetVersionMismatch(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("s2")

	_, err := store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "1"}}, nil, 0)
	require.NoError(t, err)

	wrongExpected := uint64(99)
	_, err = store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "2"}}, &wrongExpected, 0)
	require.Error(t, err)
	assert.True(t, authstate.IsVersionConflict(err))
}

func TestRedisStoreSuccessiveWritesIncreaseVersion(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("s3")

	r1, err := store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "1"}}, nil, 0)
	require.NoError(t, err)
	r2, err := store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"b": "2"}}, nil, 0)
	require.NoError(t, err)

	assert.Greater(t, r2.Version, r1.Version)
}

func TestRedisStoreSetSnapshotRejectsStaleCandidate(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("s4")

	_, err := store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "1"}}, nil, 0)
	require.NoError(t, err)
	_, err = store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "2"}}, nil, 0)
	require.NoError(t, err)

	stale := authstate.Versioned[authstate.AuthSnapshot]{
		Data:      authstate.AuthSnapshot{Creds: map[string]any{"a": "stale"}},
		Version:   1,
		UpdatedAt: time.Now(),
	}
	err = store.SetSnapshot(ctx, id, stale, 0)
	require.Error(t, err)
	assert.True(t, IsWarmingStale(err))
}

func TestRedisStoreDeleteRemovesMainAndMeta(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("s5")

	_, err := store.Set(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": "1"}}, nil, 0)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	_, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.GetMeta(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreIsHealthy(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()

	assert.True(t, store.IsHealthy(context.Background()))
	store.Close()
	assert.False(t, store.IsHealthy(context.Background()))
}
