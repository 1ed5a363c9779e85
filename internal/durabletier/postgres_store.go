package durabletier

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luoarch/go-auth-store/internal/authstate"
	"github.com/luoarch/go-auth-store/internal/resilience"
)

// PostgresStore is the Store implementation backed by pgx, grounded on the
// teacher's database/postgres/pool.go PostgresPool: same Connect/
// Disconnect/IsConnected/Health lifecycle and timed-and-logged query
// wrappers, generalized from the teacher's generic DatabaseConnection
// interface to the auth-state row shape, with a Codec for at-rest
// encryption and a documentCache absorbing read amplification.
type PostgresStore struct {
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger
	codec  *Codec
	cache  *documentCache

	retryPolicy *resilience.RetryPolicy
}

// NewPostgresStore constructs (but does not connect) a PostgresStore.
func NewPostgresStore(config *Config, codec *Codec, logger *slog.Logger, retryMetrics resilience.RetryRecorder) *PostgresStore {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		config: config,
		logger: logger,
		codec:  codec,
		cache:  newDocumentCache(2000, config.DocumentCacheTTL),
		retryPolicy: &resilience.RetryPolicy{
			MaxRetries:    config.MaxRetries,
			BaseDelay:     config.RetryBaseDelay,
			MaxDelay:      config.RetryMaxDelay,
			Multiplier:    config.RetryMultiplier,
			Jitter:        true,
			ErrorChecker:  &resilience.DuplicateKeyErrorChecker{},
			Logger:        logger,
			Metrics:       retryMetrics,
			OperationName: "durabletier.upsert",
		},
	}
}

// Connect mirrors PostgresPool.Connect: validates config, builds a pgxpool
// from the DSN, tunes pool limits, and pings.
func (s *PostgresStore) Connect(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return authstate.NewStorageError(authstate.TierDurable, "connect", "invalid_config", err)
	}

	poolConfig, err := pgxpool.ParseConfig(s.config.DSN())
	if err != nil {
		return authstate.NewStorageError(authstate.TierDurable, "connect", "invalid_dsn", err)
	}
	poolConfig.MaxConns = s.config.MaxConns
	poolConfig.MinConns = s.config.MinConns
	poolConfig.MaxConnLifetime = s.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = s.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = s.config.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return authstate.NewStorageError(authstate.TierDurable, "connect", "pool_create_failed", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return authstate.NewStorageError(authstate.TierDurable, "connect", "ping_failed", err)
	}

	s.pool = pool
	s.logger.Info("durable tier connected", "host", s.config.Host, "database", s.config.Database)
	return nil
}

func (s *PostgresStore) IsHealthy(ctx context.Context) bool {
	if s.pool == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(pingCtx) == nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type snapshotRow struct {
	version   uint64
	updatedAt time.Time
	creds     string
	keys      string
	appState  string
}

// Get reads through the document cache first, falling back to Postgres and
// repopulating the cache on miss.
func (s *PostgresStore) Get(ctx context.Context, id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool, error) {
	if cached, ok := s.cache.get(id); ok {
		return cached, true, nil
	}

	var row snapshotRow
	err := s.pool.QueryRow(ctx,
		`SELECT version, updated_at, creds, keys, app_state FROM auth_snapshots
		 WHERE session_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		string(id),
	).Scan(&row.version, &row.updatedAt, &row.creds, &row.keys, &row.appState)
	if err != nil {
		if isNoRows(err) {
			return authstate.Versioned[authstate.AuthSnapshot]{}, false, nil
		}
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, s.wrapErr("get", err)
	}

	snapshot, err := s.decodeRow(row)
	if err != nil {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, err
	}

	result := authstate.Versioned[authstate.AuthSnapshot]{Data: snapshot, Version: row.version, UpdatedAt: row.updatedAt}
	s.cache.set(id, result)
	return result, true, nil
}

func (s *PostgresStore) decodeRow(row snapshotRow) (authstate.AuthSnapshot, error) {
	var snapshot authstate.AuthSnapshot
	if err := s.codec.Decode(row.creds, &snapshot.Creds); err != nil {
		return snapshot, err
	}
	if err := s.codec.Decode(row.keys, &snapshot.Keys); err != nil {
		return snapshot, err
	}
	if err := s.codec.Decode(row.appState, &snapshot.AppState); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// Upsert reads the stored row (if any) inside a transaction, rejects a
// stale caller, merges patch the same way the fast tier does, and
// writes the merged snapshot back, retrying duplicate-key races with
// backoff per spec.md §4.2. It always invalidates the document cache
// entry so a subsequent Get observes the write.
func (s *PostgresStore) Upsert(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion uint64, fencingToken string) (authstate.VersionedResult, error) {
	defer s.cache.invalidate(id)

	result, err := resilience.WithRetryFunc(ctx, s.retryPolicy, func() (authstate.VersionedResult, error) {
		return s.upsertOnce(ctx, id, patch, expectedVersion, fencingToken)
	})
	return result, err
}

func (s *PostgresStore) upsertOnce(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion uint64, fencingToken string) (authstate.VersionedResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return authstate.VersionedResult{}, s.wrapErr("upsert", err)
	}
	defer tx.Rollback(ctx)

	var row snapshotRow
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT version, updated_at, creds, keys, app_state FROM auth_snapshots WHERE session_id = $1 FOR UPDATE`,
		string(id),
	).Scan(&row.version, &row.updatedAt, &row.creds, &row.keys, &row.appState)
	switch {
	case err == nil:
		exists = true
	case isNoRows(err):
		exists = false
	default:
		return authstate.VersionedResult{}, s.wrapErr("upsert", err)
	}

	if exists && row.version > expectedVersion {
		return authstate.VersionedResult{}, &authstate.VersionConflictError{SessionId: id, Expected: expectedVersion, Actual: row.version}
	}

	var base authstate.AuthSnapshot
	if exists {
		base, err = s.decodeRow(row)
		if err != nil {
			return authstate.VersionedResult{}, err
		}
	}
	merged := authstate.Merge(base, patch)
	newVersion := expectedVersion + 1
	if exists && row.version > newVersion-1 {
		newVersion = row.version + 1
	}
	now := time.Now().UTC()

	credsEnc, err := s.codec.Encode(merged.Creds)
	if err != nil {
		return authstate.VersionedResult{}, err
	}
	keysEnc, err := s.codec.Encode(merged.Keys)
	if err != nil {
		return authstate.VersionedResult{}, err
	}
	appStateEnc, err := s.codec.Encode(merged.AppState)
	if err != nil {
		return authstate.VersionedResult{}, err
	}

	if exists {
		_, err = tx.Exec(ctx,
			`UPDATE auth_snapshots SET version=$2, updated_at=$3, fencing_token=$4, creds=$5, keys=$6, app_state=$7
			 WHERE session_id=$1`,
			string(id), newVersion, now, fencingToken, credsEnc, keysEnc, appStateEnc)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO auth_snapshots (session_id, version, updated_at, fencing_token, creds, keys, app_state)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			string(id), newVersion, now, fencingToken, credsEnc, keysEnc, appStateEnc)
	}
	if err != nil {
		return authstate.VersionedResult{}, s.wrapErr("upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return authstate.VersionedResult{}, s.wrapErr("upsert", err)
	}
	return authstate.VersionedResult{Version: newVersion, UpdatedAt: now, Success: true}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id authstate.SessionId) error {
	defer s.cache.invalidate(id)
	_, err := s.pool.Exec(ctx, `DELETE FROM auth_snapshots WHERE session_id = $1`, string(id))
	if err != nil {
		return s.wrapErr("delete", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, id authstate.SessionId, ttl time.Duration) error {
	defer s.cache.invalidate(id)
	// pgx's default type map has no encode plan from time.Duration to
	// Postgres interval, so ttl is passed as a float seconds count and
	// make_interval builds the interval server-side.
	_, err := s.pool.Exec(ctx,
		`UPDATE auth_snapshots SET expires_at = now() + make_interval(secs => $2) WHERE session_id = $1`,
		string(id), ttl.Seconds())
	if err != nil {
		return s.wrapErr("touch", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, id authstate.SessionId) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM auth_snapshots WHERE session_id = $1 AND (expires_at IS NULL OR expires_at > now()))`,
		string(id),
	).Scan(&exists)
	if err != nil {
		return false, s.wrapErr("exists", err)
	}
	return exists, nil
}

func (s *PostgresStore) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	code := "io_error"
	if isConnectionError(err) {
		code = "connection_error"
	} else if isDuplicateKey(err) {
		code = "duplicate_key"
	} else if err == pgx.ErrTxClosed {
		code = "tx_closed"
	}
	return authstate.NewStorageError(authstate.TierDurable, op, code, err)
}
