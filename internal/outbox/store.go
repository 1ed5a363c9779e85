package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// containerKey/dlqKey mirror fasttier's "{prefix}:{session}" convention
// but under their own "outbox" namespace, per spec.md §6: container key
// `outbox:{sessionId}`, dead-letter container `outbox:dlq`.
func containerKey(id authstate.SessionId) string { return fmt.Sprintf("outbox:%s", id) }

const dlqKey = "outbox:dlq"

// Store is the Redis-backed outbox, one Redis hash per session keyed by
// version, plus a shared dead-letter list. It shares the fast tier's
// redis.UniversalClient rather than dialing its own connection.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func New(client redis.UniversalClient, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// Add inserts a new pending entry idempotently: if-not-exists on
// (sessionId, version). Resets the container TTL whenever a new entry is
// inserted.
func (s *Store) Add(ctx context.Context, sessionId authstate.SessionId, patch authstate.AuthPatch, version uint64, fencingToken string) error {
	key := containerKey(sessionId)
	field := fmt.Sprintf("%d", version)
	now := time.Now().UTC()

	entry := Entry{
		Id:           entryId(sessionId, version),
		SessionId:    sessionId,
		Patch:        patch,
		Version:      version,
		FencingToken: fencingToken,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	raw, err := marshalEntry(entry)
	if err != nil {
		return err
	}

	set, err := s.client.HSetNX(ctx, key, field, raw).Result()
	if err != nil {
		return authstate.NewStorageError(authstate.TierFast, "outbox_add", "hsetnx_error", err)
	}
	if !set {
		// Already present: add is idempotent, per spec.md §4.3's
		// "at most one entry per (sessionId, version)" invariant.
		return nil
	}
	if err := s.client.Expire(ctx, key, ContainerTTL).Err(); err != nil {
		return authstate.NewStorageError(authstate.TierFast, "outbox_add", "expire_error", err)
	}
	return nil
}

func (s *Store) getEntry(ctx context.Context, sessionId authstate.SessionId, version uint64) (Entry, error) {
	key := containerKey(sessionId)
	field := fmt.Sprintf("%d", version)
	raw, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, authstate.ErrNotFound
	}
	if err != nil {
		return Entry{}, authstate.NewStorageError(authstate.TierFast, "outbox_get", "hget_error", err)
	}
	return unmarshalEntry(raw)
}

func (s *Store) putEntry(ctx context.Context, e Entry) error {
	key := containerKey(e.SessionId)
	field := fmt.Sprintf("%d", e.Version)
	raw, err := marshalEntry(e)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, field, raw).Err(); err != nil {
		return authstate.NewStorageError(authstate.TierFast, "outbox_put", "hset_error", err)
	}
	return nil
}

// MarkProcessing transitions pending -> processing, used by the
// reconciler before it attempts a durable upsert.
func (s *Store) MarkProcessing(ctx context.Context, sessionId authstate.SessionId, version uint64) (Entry, error) {
	e, err := s.getEntry(ctx, sessionId, version)
	if err != nil {
		return Entry{}, err
	}
	e.Status = StatusProcessing
	e.UpdatedAt = time.Now().UTC()
	if err := s.putEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// MarkCompleted transitions processing -> completed; the entry is
// reclaimed by cleanup() after CompletedGrace.
func (s *Store) MarkCompleted(ctx context.Context, sessionId authstate.SessionId, version uint64) error {
	e, err := s.getEntry(ctx, sessionId, version)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.Status = StatusCompleted
	e.UpdatedAt = now
	e.CompletedAt = &now
	return s.putEntry(ctx, e)
}

// MarkFailed increments attempts and records the error, leaving the entry
// eligible for retry on the next reconciler tick unless attempts has hit
// MaxAttempts, in which case the caller should moveToDeadLetter instead.
func (s *Store) MarkFailed(ctx context.Context, sessionId authstate.SessionId, version uint64, cause error) error {
	e, err := s.getEntry(ctx, sessionId, version)
	if err != nil {
		return err
	}
	e.Attempts++
	e.Status = StatusFailed
	e.UpdatedAt = time.Now().UTC()
	if cause != nil {
		e.LastError = cause.Error()
	}
	return s.putEntry(ctx, e)
}

// GetPending returns every entry eligible for a reconciler attempt —
// status pending, or failed with attempts below MaxAttempts — sorted by
// version ascending, per spec.md §4.3/§4.4's per-session ordering rule.
func (s *Store) GetPending(ctx context.Context, sessionId authstate.SessionId) ([]Entry, error) {
	key := containerKey(sessionId)
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, authstate.NewStorageError(authstate.TierFast, "outbox_pending", "hgetall_error", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, v := range raw {
		e, err := unmarshalEntry(v)
		if err != nil {
			return nil, err
		}
		if e.Status == StatusPending || (e.Status == StatusFailed && e.Attempts < MaxAttempts) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
	return entries, nil
}

// ListSessions enumerates every session with a live outbox container,
// excluding the dead-letter container, for the reconciler's per-tick scan.
func (s *Store) ListSessions(ctx context.Context) ([]authstate.SessionId, error) {
	var sessions []authstate.SessionId
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "outbox:*", 200).Result()
		if err != nil {
			return nil, authstate.NewStorageError(authstate.TierFast, "outbox_list", "scan_error", err)
		}
		for _, k := range keys {
			if k == dlqKey {
				continue
			}
			sessions = append(sessions, authstate.SessionId(k[len("outbox:"):]))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

// MoveToDeadLetter appends an immutable dead-letter record and removes the
// entry from the live outbox container.
func (s *Store) MoveToDeadLetter(ctx context.Context, sessionId authstate.SessionId, version uint64, cause error) error {
	e, err := s.getEntry(ctx, sessionId, version)
	if err != nil {
		return err
	}
	record := DeadLetterRecord{
		SessionId:    sessionId,
		EntryId:      e.Id,
		Version:      version,
		Patch:        e.Patch,
		FencingToken: e.FencingToken,
		Attempts:     e.Attempts,
		CreatedAt:    e.CreatedAt,
		FailedAt:     time.Now().UTC(),
	}
	if cause != nil {
		record.LastError = cause.Error()
	}
	raw, err := marshalDeadLetter(record)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, dlqKey, raw)
	pipe.HDel(ctx, containerKey(sessionId), fmt.Sprintf("%d", version))
	if _, err := pipe.Exec(ctx); err != nil {
		return authstate.NewStorageError(authstate.TierFast, "outbox_dead_letter", "pipeline_error", err)
	}
	return nil
}

// Cleanup removes completed entries older than CompletedGrace across
// every session, as a safety net for missed per-entry deletion.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-CompletedGrace)
	removed := 0
	for _, sessionId := range sessions {
		key := containerKey(sessionId)
		raw, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return removed, authstate.NewStorageError(authstate.TierFast, "outbox_cleanup", "hgetall_error", err)
		}
		for field, v := range raw {
			e, err := unmarshalEntry(v)
			if err != nil {
				continue
			}
			if e.Status == StatusCompleted && e.CompletedAt != nil && e.CompletedAt.Before(cutoff) {
				if err := s.client.HDel(ctx, key, field).Err(); err != nil {
					return removed, authstate.NewStorageError(authstate.TierFast, "outbox_cleanup", "hdel_error", err)
				}
				removed++
			}
		}
	}
	return removed, nil
}

// GetDeadLetter returns up to limit dead-letter records, most recent first.
func (s *Store) GetDeadLetter(ctx context.Context, limit int64) ([]DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, dlqKey, 0, limit-1).Result()
	if err != nil {
		return nil, authstate.NewStorageError(authstate.TierFast, "outbox_dlq_read", "lrange_error", err)
	}
	records := make([]DeadLetterRecord, 0, len(raw))
	for _, v := range raw {
		rec, err := unmarshalDeadLetter(v)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) GetDeadLetterSize(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, dlqKey).Result()
	if err != nil {
		return 0, authstate.NewStorageError(authstate.TierFast, "outbox_dlq_size", "llen_error", err)
	}
	return n, nil
}

// NewFencingToken generates a UUID-based fencing token, used by the
// orchestrator's Set when the caller supplies none, per spec.md's
// optional fencingToken field.
func NewFencingToken() string { return uuid.NewString() }
