// Package fasttier implements C1, the versioned remote cache that backs
// the hybrid store's low-latency read path.
package fasttier

import (
	"context"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// Store is the fast-tier contract: get/set/delete/touch/exists/isHealthy,
// with optimistic CAS on version, per spec.md §4.1.
type Store interface {
	// Get returns the stored snapshot and true, or a zero value and false
	// if the session has no fast-tier record. It may return a
	// stale-but-consistent snapshot but must never return a partial merge.
	Get(ctx context.Context, id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool, error)

	// GetMeta independently reads the companion meta record (version,
	// updatedAt) used by the cache-warming protocol, without paying the
	// cost of decoding the full snapshot.
	GetMeta(ctx context.Context, id authstate.SessionId) (MetaRecord, bool, error)

	// Set merges patch into the stored snapshot (or an empty one, if
	// absent) under optimistic CAS: if expectedVersion is non-nil and
	// does not match the stored version, it returns a
	// *authstate.VersionConflictError. Otherwise it computes
	// newVersion = max(storedVersion, expectedVersion) + 1, merges patch
	// incrementally, writes atomically, and applies ttl (zero means use
	// the store's default TTL).
	Set(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion *uint64, ttl time.Duration) (authstate.VersionedResult, error)

	// SetSnapshot writes a complete, already-merged Versioned snapshot
	// under optimistic CAS against candidateVersion, without re-merging.
	// Used by the cache-warming protocol (§4.7), where the Durable read
	// has already produced a complete snapshot at a known version.
	SetSnapshot(ctx context.Context, id authstate.SessionId, snapshot authstate.Versioned[authstate.AuthSnapshot], ttl time.Duration) error

	Delete(ctx context.Context, id authstate.SessionId) error
	Touch(ctx context.Context, id authstate.SessionId, ttl time.Duration) error
	Exists(ctx context.Context, id authstate.SessionId) (bool, error)
	IsHealthy(ctx context.Context) bool

	// Client exposes the underlying client handle so the orchestrator can
	// share the connection with the outbox (§6's "sharing the Fast-Tier
	// connection").
	Client() any

	Close() error
}

// MetaRecord is the companion record read independently for TOCTOU-safe
// cache warming.
type MetaRecord struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}
