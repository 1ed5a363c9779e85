package fasttier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// RedisStore is the Store implementation backed by go-redis, following
// the teacher's RedisCache construction and logging idiom
// (infrastructure/cache/redis.go) but replacing its plain Get/Set
// contract with the optimistic-watch CAS transaction spec.md §4.1
// requires. "Optimistic watch + CAS set" (§4.7 / §9) maps directly onto
// go-redis's client.Watch + TxPipelined primitive.
type RedisStore struct {
	client   redis.UniversalClient
	config   *Config
	logger   *slog.Logger
	isClosed bool
}

// NewRedisStore connects to Redis and verifies the connection with Ping,
// exactly as the teacher's NewRedisCache does.
func NewRedisStore(config *Config, logger *slog.Logger) (*RedisStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            config.Addr,
		Password:        config.Password,
		DB:              config.DB,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		DialTimeout:     config.DialTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		MaxRetries:      config.MaxRetries,
		MinRetryBackoff: config.MinRetryBackoff,
		MaxRetryBackoff: config.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to fast tier", "error", err, "addr", config.Addr)
		return nil, authstate.NewStorageError(authstate.TierFast, "connect", "connection_error", err)
	}
	logger.Info("connected to fast tier", "addr", config.Addr, "db", config.DB)

	return &RedisStore{client: client, config: config, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client — used by
// tests against miniredis.
func NewRedisStoreFromClient(client redis.UniversalClient, config *Config, logger *slog.Logger) *RedisStore {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, config: config, logger: logger}
}

func (s *RedisStore) mainKey(id authstate.SessionId) string {
	return fmt.Sprintf("%s:%s", s.config.KeyPrefix, id)
}

func (s *RedisStore) metaKey(id authstate.SessionId) string {
	return fmt.Sprintf("%s:%s:meta", s.config.KeyPrefix, id)
}

func (s *RedisStore) Client() any { return s.client }

func (s *RedisStore) Get(ctx context.Context, id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool, error) {
	if s.isClosed {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, authstate.NewStorageError(authstate.TierFast, "get", "closed", nil)
	}
	s.logger.Debug("fast tier get", "session_id", id)

	raw, err := s.client.Get(ctx, s.mainKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, nil
	}
	if err != nil {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, authstate.NewStorageError(authstate.TierFast, "get", "get_error", err)
	}

	var versioned authstate.Versioned[authstate.AuthSnapshot]
	if err := json.Unmarshal([]byte(raw), &versioned); err != nil {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, authstate.NewStorageError(authstate.TierFast, "get", "unmarshal_error", err)
	}
	return versioned, true, nil
}

func (s *RedisStore) GetMeta(ctx context.Context, id authstate.SessionId) (MetaRecord, bool, error) {
	if s.isClosed {
		return MetaRecord{}, false, authstate.NewStorageError(authstate.TierFast, "get_meta", "closed", nil)
	}
	raw, err := s.client.Get(ctx, s.metaKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return MetaRecord{}, false, nil
	}
	if err != nil {
		return MetaRecord{}, false, authstate.NewStorageError(authstate.TierFast, "get_meta", "get_error", err)
	}
	var meta MetaRecord
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return MetaRecord{}, false, authstate.NewStorageError(authstate.TierFast, "get_meta", "unmarshal_error", err)
	}
	return meta, true, nil
}

// Set implements the optimistic-watch CAS transaction from spec.md §4.1:
// read current meta inside a WATCH, merge the patch against the current
// full snapshot, and commit both keys in one MULTI/EXEC — aborting and
// retrying if a concurrent writer touched the watched keys first.
func (s *RedisStore) Set(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion *uint64, ttl time.Duration) (authstate.VersionedResult, error) {
	if s.isClosed {
		return authstate.VersionedResult{}, authstate.NewStorageError(authstate.TierFast, "set", "closed", nil)
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	mainKey, metaKey := s.mainKey(id), s.metaKey(id)
	var result authstate.VersionedResult
	var conflictErr error

	for attempt := 0; attempt < s.config.CASMaxAttempts; attempt++ {
		conflictErr = nil
		txf := func(tx *redis.Tx) error {
			metaRaw, err := tx.Get(ctx, metaKey).Result()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists = false
			} else if err != nil {
				return err
			}

			var storedVersion uint64
			if exists {
				var meta MetaRecord
				if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
					return err
				}
				storedVersion = meta.Version
			}

			if expectedVersion != nil && *expectedVersion != storedVersion {
				conflictErr = &authstate.VersionConflictError{SessionId: id, Expected: *expectedVersion, Actual: storedVersion}
				return nil
			}

			var base authstate.AuthSnapshot
			if exists {
				mainRaw, err := tx.Get(ctx, mainKey).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				if err == nil {
					var current authstate.Versioned[authstate.AuthSnapshot]
					if err := json.Unmarshal([]byte(mainRaw), &current); err != nil {
						return err
					}
					base = current.Data
				}
			}

			merged := authstate.Merge(base, patch)
			newVersion := storedVersion + 1
			if expectedVersion != nil && *expectedVersion > storedVersion {
				newVersion = *expectedVersion + 1
			}
			now := time.Now().UTC()

			mainBytes, err := json.Marshal(authstate.Versioned[authstate.AuthSnapshot]{Data: merged, Version: newVersion, UpdatedAt: now})
			if err != nil {
				return err
			}
			metaBytes, err := json.Marshal(MetaRecord{Version: newVersion, UpdatedAt: now})
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, mainKey, mainBytes, ttl)
				pipe.Set(ctx, metaKey, metaBytes, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			result = authstate.VersionedResult{Version: newVersion, UpdatedAt: now, Success: true}
			return nil
		}

		err := s.client.Watch(ctx, txf, metaKey, mainKey)
		if err == nil {
			if conflictErr != nil {
				return authstate.VersionedResult{}, conflictErr
			}
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("fast tier CAS transaction aborted, retrying", "session_id", id, "attempt", attempt+1)
			continue
		}
		return authstate.VersionedResult{}, authstate.NewStorageError(authstate.TierFast, "set", "tx_error", err)
	}

	return authstate.VersionedResult{}, authstate.NewStorageError(authstate.TierFast, "set", "cas_exhausted", fmt.Errorf("too many concurrent writers for session %q", id))
}

// SetSnapshot is the CAS primitive used by cache warming (§4.7): commit a
// fully-formed snapshot only if the stored version has not advanced past
// snapshot.Version.
func (s *RedisStore) SetSnapshot(ctx context.Context, id authstate.SessionId, snapshot authstate.Versioned[authstate.AuthSnapshot], ttl time.Duration) error {
	if s.isClosed {
		return authstate.NewStorageError(authstate.TierFast, "set_snapshot", "closed", nil)
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}
	mainKey, metaKey := s.mainKey(id), s.metaKey(id)

	txf := func(tx *redis.Tx) error {
		metaRaw, err := tx.Get(ctx, metaKey).Result()
		storedVersion := uint64(0)
		if err == nil {
			var meta MetaRecord
			if jsonErr := json.Unmarshal([]byte(metaRaw), &meta); jsonErr == nil {
				storedVersion = meta.Version
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		if storedVersion >= snapshot.Version {
			return errWarmingStale
		}

		mainBytes, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		metaBytes, err := json.Marshal(MetaRecord{Version: snapshot.Version, UpdatedAt: snapshot.UpdatedAt})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, mainKey, mainBytes, ttl)
			pipe.Set(ctx, metaKey, metaBytes, ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, metaKey, mainKey)
	if errors.Is(err, errWarmingStale) || errors.Is(err, redis.TxFailedErr) {
		// Both outcomes mean a concurrent writer already moved past this
		// candidate version; warming is swallowed by the caller (§4.7.4).
		return errWarmingStale
	}
	if err != nil {
		return authstate.NewStorageError(authstate.TierFast, "set_snapshot", "tx_error", err)
	}
	return nil
}

// errWarmingStale signals the warming candidate is no longer ahead of the
// stored version; callers (orchestrator) swallow and log it at warn.
var errWarmingStale = errors.New("fasttier: warming candidate is not newer than stored version")

// IsWarmingStale reports whether err is the sentinel returned when a
// cache-warming attempt lost the race to a concurrent writer.
func IsWarmingStale(err error) bool { return errors.Is(err, errWarmingStale) }

func (s *RedisStore) Delete(ctx context.Context, id authstate.SessionId) error {
	if s.isClosed {
		return authstate.NewStorageError(authstate.TierFast, "delete", "closed", nil)
	}
	if err := s.client.Del(ctx, s.mainKey(id), s.metaKey(id)).Err(); err != nil {
		return authstate.NewStorageError(authstate.TierFast, "delete", "delete_error", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, id authstate.SessionId, ttl time.Duration) error {
	if s.isClosed {
		return authstate.NewStorageError(authstate.TierFast, "touch", "closed", nil)
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}
	mainOK, err := s.client.Expire(ctx, s.mainKey(id), ttl).Result()
	if err != nil {
		return authstate.NewStorageError(authstate.TierFast, "touch", "expire_error", err)
	}
	if !mainOK {
		return authstate.ErrNotFound
	}
	if err := s.client.Expire(ctx, s.metaKey(id), ttl).Err(); err != nil {
		return authstate.NewStorageError(authstate.TierFast, "touch", "expire_error", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, id authstate.SessionId) (bool, error) {
	if s.isClosed {
		return false, authstate.NewStorageError(authstate.TierFast, "exists", "closed", nil)
	}
	n, err := s.client.Exists(ctx, s.mainKey(id)).Result()
	if err != nil {
		return false, authstate.NewStorageError(authstate.TierFast, "exists", "exists_error", err)
	}
	return n > 0, nil
}

func (s *RedisStore) IsHealthy(ctx context.Context) bool {
	if s.isClosed {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisStore) Close() error {
	if s.isClosed {
		return nil
	}
	s.isClosed = true
	s.logger.Info("closing fast tier connection")
	if err := s.client.Close(); err != nil {
		return authstate.NewStorageError(authstate.TierFast, "close", "close_error", err)
	}
	return nil
}
