package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

func setupTestOutbox(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, nil), mr
}

func TestAddIsIdempotentForSameSessionVersion(t *testing.T) {
	store, _ := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s1")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, "")) // no-op

	pending, err := store.GetPending(ctx, id)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGetPendingSortsByVersionAscending(t *testing.T) {
	store, _ := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s2")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 3, ""))
	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 2, ""))

	pending, err := store.GetPending(ctx, id)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{pending[0].Version, pending[1].Version, pending[2].Version})
}

func TestMarkCompletedRemovesFromPending(t *testing.T) {
	store, _ := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s3")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	_, err := store.MarkProcessing(ctx, id, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, id, 1))

	pending, err := store.GetPending(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkFailedKeepsEntryPendingUntilMaxAttempts(t *testing.T) {
	store, _ := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s4")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	require.NoError(t, store.MarkFailed(ctx, id, 1, errors.New("boom")))

	pending, err := store.GetPending(ctx, id)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestMoveToDeadLetterRemovesFromLiveOutbox(t *testing.T) {
	store, _ := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s5")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	require.NoError(t, store.MoveToDeadLetter(ctx, id, 1, errors.New("permanent")))

	pending, err := store.GetPending(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, pending)

	dlq, err := store.GetDeadLetter(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, id, dlq[0].SessionId)

	size, err := store.GetDeadLetterSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestCleanupRemovesCompletedEntriesPastGrace(t *testing.T) {
	store, mr := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s6")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	require.NoError(t, store.MarkCompleted(ctx, id, 1))

	e, err := store.getEntry(ctx, id, 1)
	require.NoError(t, err)
	past := time.Now().Add(-2 * CompletedGrace)
	e.CompletedAt = &past
	require.NoError(t, store.putEntry(ctx, e))

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	mr.FastForward(time.Second)
}

func TestListSessionsExcludesDeadLetterContainer(t *testing.T) {
	store, _ := setupTestOutbox(t)
	ctx := context.Background()
	id := authstate.SessionId("s7")

	require.NoError(t, store.Add(ctx, id, authstate.AuthPatch{}, 1, ""))
	require.NoError(t, store.MoveToDeadLetter(ctx, id, 1, errors.New("x")))
	// also create an unrelated live session
	require.NoError(t, store.Add(ctx, authstate.SessionId("s8"), authstate.AuthPatch{}, 1, ""))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	for _, s := range sessions {
		assert.NotEqual(t, "dlq", string(s))
	}
}
