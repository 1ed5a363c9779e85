//go:build integration
// +build integration

package durabletier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// startPostgresContainer spins up a disposable Postgres instance and runs
// the durable-tier's goose migrations against it, grounded on the
// teacher's test/integration/infra.go startPostgres.
func startPostgresContainer(t *testing.T) *Config {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("authstore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.WithSQLDriver("pgx"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Database = "authstore_test"
	cfg.User = "test"
	cfg.Password = "test"

	require.NoError(t, RunMigrations(cfg, "../../migrations", nil))
	require.NoError(t, wait.ForListeningPort("5432/tcp").WaitUntilReady(ctx, container))
	return cfg
}

func TestPostgresStoreUpsertAndGetAgainstRealDatabase(t *testing.T) {
	cfg := startPostgresContainer(t)
	codec, err := NewCodec(CodecOptions{})
	require.NoError(t, err)

	store := NewPostgresStore(cfg, codec, nil, nil)
	require.NoError(t, store.Connect(context.Background()))
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("integration-session")

	result, err := store.Upsert(ctx, id, authstate.AuthPatch{Creds: map[string]any{"token": "abc"}}, 0, "fencing-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, uint64(1), result.Version)

	snap, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", snap.Data.Creds["token"])

	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Touch(ctx, id, time.Hour))
	require.NoError(t, store.Delete(ctx, id))

	_, found, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresStoreUpsertRejectsStaleVersion(t *testing.T) {
	cfg := startPostgresContainer(t)
	codec, err := NewCodec(CodecOptions{})
	require.NoError(t, err)

	store := NewPostgresStore(cfg, codec, nil, nil)
	require.NoError(t, store.Connect(context.Background()))
	defer store.Close()

	ctx := context.Background()
	id := authstate.SessionId("stale-session")

	_, err = store.Upsert(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": 1}}, 0, "")
	require.NoError(t, err)
	_, err = store.Upsert(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": 2}}, 1, "")
	require.NoError(t, err)

	_, err = store.Upsert(ctx, id, authstate.AuthPatch{Creds: map[string]any{"a": 3}}, 0, "")
	assert.True(t, authstate.IsVersionConflict(err))
}
