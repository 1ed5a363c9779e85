// Package queue implements an in-process QueueAdapter for the
// orchestrator's write-behind path, grounded on the teacher's
// infrastructure/publishing/queue.go PublishingQueue: a buffered job
// channel drained by a fixed worker pool, with graceful, timeout-bounded
// shutdown. Generalized from the teacher's three priority tiers (a
// publishing concern auth-state persistence jobs don't have) down to a
// single FIFO tier, since every write-behind job carries equal urgency.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luoarch/go-auth-store/internal/orchestrator"
	"github.com/luoarch/go-auth-store/pkg/logger"
)

// Handler persists one queued job; returning an error leaves the job's
// outbox entry pending for the reconciler to pick up on its next tick.
type Handler func(ctx context.Context, payload orchestrator.QueueJobPayload) error

// Config controls the worker pool's size and buffering.
type Config struct {
	WorkerCount int
	QueueSize   int
	StopTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{WorkerCount: 10, QueueSize: 1000, StopTimeout: 30 * time.Second}
}

type job struct {
	id      string
	payload orchestrator.QueueJobPayload
}

// InProcessQueue is an in-memory orchestrator.QueueAdapter: Add enqueues
// without blocking on persistence, a fixed worker pool drains the
// channel calling handler, and Close drains gracefully within
// StopTimeout before forcing cancellation.
type InProcessQueue struct {
	config  Config
	handler Handler
	logger  *slog.Logger

	jobs   chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New constructs an InProcessQueue and starts its worker pool.
func New(config Config, handler Handler, logger *slog.Logger) *InProcessQueue {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 10
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &InProcessQueue{
		config:  config,
		handler: handler,
		logger:  logger,
		jobs:    make(chan job, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.start()
	return q
}

func (q *InProcessQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.config.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("in-process write-behind queue started", "workers", q.config.WorkerCount)
}

func (q *InProcessQueue) worker(id int) {
	defer q.wg.Done()
	for j := range q.jobs {
		// The job's own ID is its correlation ID: the durable write it
		// triggers runs on this worker goroutine with no caller request
		// to inherit a request ID from, so handler log lines derived via
		// logger.FromContext are tagged with it. The breaker and durable
		// store log through their own loggers, without it.
		ctx := logger.WithRequestID(q.ctx, j.id)
		if err := q.handler(ctx, j.payload); err != nil {
			q.logger.Error("write-behind job failed, left pending for reconciler", "worker", id, "job_id", j.id, "session_id", j.payload.SessionId, "error", err)
		}
	}
}

// Add enqueues a persistence job. jobName is accepted for interface
// parity with spec.md §6's add(jobName, payload) but is otherwise
// unused: this adapter has a single job kind.
func (q *InProcessQueue) Add(ctx context.Context, jobName string, payload orchestrator.QueueJobPayload) error {
	j := job{id: uuid.NewString(), payload: payload}
	select {
	case q.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue: %s job queue full (capacity %d)", jobName, q.config.QueueSize)
	}
}

// Close stops accepting new work, closes the job channel, and waits for
// in-flight jobs to drain within StopTimeout before force-cancelling.
func (q *InProcessQueue) Close(ctx context.Context) error {
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(q.config.StopTimeout):
		q.cancel()
		return fmt.Errorf("queue: stop timed out after %v", q.config.StopTimeout)
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
