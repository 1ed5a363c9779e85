package authstate

import (
	"errors"
	"fmt"
)

// Tier identifies which storage tier (or the hybrid orchestrator itself)
// raised a StorageError.
type Tier string

const (
	TierFast    Tier = "fast"
	TierDurable Tier = "durable"
	TierHybrid  Tier = "hybrid"
)

// StorageError is the typed, wrapped error kind used for transient I/O
// failures in either tier, following the teacher's *CacheError / typed
// *DatabaseError idiom: a stable Code, the tier and operation it happened
// in, and the wrapped cause for errors.Is/errors.As chains.
type StorageError struct {
	Tier  Tier
	Op    string
	Code  string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authstate: %s storage error during %s (%s): %v", e.Tier, e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("authstate: %s storage error during %s (%s)", e.Tier, e.Op, e.Code)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError constructs a StorageError, defaulting Code to "unknown"
// when unset.
func NewStorageError(tier Tier, op string, code string, cause error) *StorageError {
	if code == "" {
		code = "unknown"
	}
	return &StorageError{Tier: tier, Op: op, Code: code, Cause: cause}
}

// VersionConflictError is the optimistic-locking conflict error. It is
// never wrapped into a StorageError and propagates unchanged out of `set`,
// per spec.md §7's propagation policy.
type VersionConflictError struct {
	SessionId SessionId
	Expected  uint64
	Actual    uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("authstate: version conflict for session %q: expected %d, actual %d", e.SessionId, e.Expected, e.Actual)
}

// ValidationError is raised synchronously at the API boundary for
// malformed patches, invalid config, or a missing master key when
// encryption is enabled. It is fatal and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("authstate: validation failed for %s: %s", e.Field, e.Reason)
}

// BreakerOpenError is surfaced only within the orchestrator; it never
// leaves get (collapses to none) and never leaves delete/touch directly.
type BreakerOpenError struct {
	Target string
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("authstate: circuit breaker open for %s", e.Target)
}

// IsVersionConflict reports whether err is (or wraps) a
// *VersionConflictError.
func IsVersionConflict(err error) bool {
	var v *VersionConflictError
	return errors.As(err, &v)
}

// IsBreakerOpen reports whether err is (or wraps) a *BreakerOpenError.
func IsBreakerOpen(err error) bool {
	var b *BreakerOpenError
	return errors.As(err, &b)
}

// IsStorageError reports whether err is (or wraps) a *StorageError, and
// returns it for inspection of Tier/Code.
func IsStorageError(err error) (*StorageError, bool) {
	var s *StorageError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

var (
	// ErrNotFound indicates a tier read found no record for the session.
	// Not itself an error condition at the orchestrator boundary — get()
	// translates a not-found result into (Versioned[AuthSnapshot]{}, false, nil).
	ErrNotFound = errors.New("authstate: session not found")
)
