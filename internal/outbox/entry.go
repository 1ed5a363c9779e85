// Package outbox implements C3, the per-session queue of pending durable
// writes that backs the hybrid store's write-behind path, with status,
// retries, and dead-letter handling. It shares the fast tier's Redis
// connection rather than opening one of its own, per spec.md §6.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// Status is an OutboxEntry's lifecycle state, mirroring the teacher's
// publishing.JobState enum (infrastructure/publishing/queue.go) with the
// outbox's own states: pending -> processing -> completed, or
// pending -> processing -> failed (retried) -> dead-letter.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxAttempts is the retry ceiling before an entry moves to dead-letter,
// per spec.md §4.3.
const MaxAttempts = 3

// ContainerTTL is the outbox container's TTL, reset on every insert.
const ContainerTTL = 7 * 24 * time.Hour

// CompletedGrace is how long a completed entry survives before cleanup()
// reclaims it, as a safety net for missed per-entry deletion timers.
const CompletedGrace = time.Hour

// Entry is one pending (or recently resolved) durable write.
type Entry struct {
	Id           string     `json:"id"` // "{sessionId}:{version}"
	SessionId    authstate.SessionId `json:"sessionId"`
	Patch        authstate.AuthPatch `json:"patch"`
	Version      uint64     `json:"version"`
	FencingToken string     `json:"fencingToken,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
}

// entryId builds the unique "{sessionId}:{version}" key.
func entryId(sessionId authstate.SessionId, version uint64) string {
	return fmt.Sprintf("%s:%d", sessionId, version)
}

// DeadLetterRecord is an immutable copy of a terminally failed entry, per
// spec.md §3's Dead-Letter Record.
type DeadLetterRecord struct {
	SessionId    authstate.SessionId `json:"sessionId"`
	EntryId      string              `json:"entryId"`
	Version      uint64              `json:"version"`
	Patch        authstate.AuthPatch `json:"patch"`
	FencingToken string              `json:"fencingToken,omitempty"`
	Attempts     int                 `json:"attempts"`
	LastError    string              `json:"lastError"`
	FailedAt     time.Time           `json:"failedAt"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func marshalEntry(e Entry) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", authstate.NewStorageError(authstate.TierFast, "outbox_marshal", "marshal_failed", err)
	}
	return string(raw), nil
}

func unmarshalEntry(raw string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, authstate.NewStorageError(authstate.TierFast, "outbox_unmarshal", "unmarshal_failed", err)
	}
	return e, nil
}

func marshalDeadLetter(r DeadLetterRecord) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", authstate.NewStorageError(authstate.TierFast, "outbox_dlq_marshal", "marshal_failed", err)
	}
	return string(raw), nil
}

func unmarshalDeadLetter(raw string) (DeadLetterRecord, error) {
	var r DeadLetterRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return DeadLetterRecord{}, authstate.NewStorageError(authstate.TierFast, "outbox_dlq_unmarshal", "unmarshal_failed", err)
	}
	return r, nil
}
