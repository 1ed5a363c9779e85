package orchestrator

import (
	"context"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// QueueAdapter is the external job queue the write-behind path enqueues
// persistence jobs onto. Consumed, not defined, by spec.md §6: "add(jobName,
// payload) -> future<void>", "close() -> future<void>". Concrete
// implementations (e.g. a Redis-streams or NATS adapter) live outside this
// package; the orchestrator only depends on this interface so it can be
// swapped or stubbed in tests.
type QueueAdapter interface {
	Add(ctx context.Context, jobName string, payload QueueJobPayload) error
	Close(ctx context.Context) error
}

// QueueJobPayload is the persistence-job payload shape from spec.md §6:
// "{sessionId, patch, version, fencingToken?, timestamp}".
type QueueJobPayload struct {
	SessionId    authstate.SessionId `json:"sessionId"`
	Patch        authstate.AuthPatch `json:"patch"`
	Version      uint64              `json:"version"`
	FencingToken string              `json:"fencingToken,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}
