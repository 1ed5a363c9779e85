// Package durabletier implements C2, the durable-of-record Postgres store
// backing the hybrid store's consistency path.
package durabletier

import (
	"context"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// Store is the durable-tier contract: same shape as fasttier.Store, plus an
// Upsert with the conceptual rule "allow if storedVersion <= expectedVersion
// OR the record is absent", per spec.md §4.2.
type Store interface {
	Get(ctx context.Context, id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool, error)

	// Upsert merges patch into the stored snapshot (or an empty one, if
	// absent), allowed when no record exists yet or the stored version is
	// <= expectedVersion — the durable tier's looser counterpart to the
	// fast tier's strict-equality CAS, letting a reconciler replay land on
	// top of an equal-or-older row instead of requiring an exact match. A
	// stale caller (storedVersion > expectedVersion) gets a
	// VersionConflictError. fencingToken, when non-empty, is recorded
	// alongside the row so a reconciler replay can be told apart from a
	// fresher direct write.
	Upsert(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion uint64, fencingToken string) (authstate.VersionedResult, error)

	Delete(ctx context.Context, id authstate.SessionId) error
	Touch(ctx context.Context, id authstate.SessionId, ttl time.Duration) error
	Exists(ctx context.Context, id authstate.SessionId) (bool, error)
	IsHealthy(ctx context.Context) bool

	Close() error
}
