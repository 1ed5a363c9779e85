// Package reconciler implements C4, the periodic worker that drains the
// outbox into the durable tier with bounded concurrency. Its start/stop
// lifecycle and ticker+select+stopCh loop are grounded on the teacher's
// database/postgres/health.go PeriodicHealthChecker.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
	"github.com/luoarch/go-auth-store/internal/breaker"
	"github.com/luoarch/go-auth-store/internal/durabletier"
	"github.com/luoarch/go-auth-store/internal/outbox"
	"github.com/luoarch/go-auth-store/pkg/logger"
)

// Metrics is the subset of the process registry the reconciler records
// into, decoupled from the concrete metrics type the way internal/
// resilience decouples RetryRecorder.
type Metrics interface {
	RecordLatency(outcome string, seconds float64)
	RecordFailure(errorClass string)
}

// Config controls the reconciler's tick period and concurrency bound.
type Config struct {
	Period      time.Duration
	Concurrency int
}

func DefaultConfig() Config {
	return Config{Period: 30 * time.Second, Concurrency: 10}
}

// Reconciler periodically drains every session's pending outbox entries
// into the durable tier, in ascending-version order per session, with a
// global bound on in-flight durable writes across all sessions.
type Reconciler struct {
	config  Config
	outbox  *outbox.Store
	durable durabletier.Store
	breaker *breaker.Breaker
	logger  *slog.Logger
	metrics Metrics

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	totalCompleted int64
}

func New(outboxStore *outbox.Store, durable durabletier.Store, br *breaker.Breaker, config Config, logger *slog.Logger, metrics Metrics) *Reconciler {
	if config.Period <= 0 {
		config.Period = 30 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{config: config, outbox: outboxStore, durable: durable, breaker: br, logger: logger, metrics: metrics}
}

// Start begins the periodic tick loop; calling Start while already
// running logs and no-ops, per spec.md §4.4's idempotent start().
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.logger.Info("reconciler already running, start() is a no-op")
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.loop(ctx)
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Stop clears the timer and waits for any in-flight tick to finish.
// Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	<-doneCh
}

// IsRunning reports whether the tick loop is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// TotalCompleted returns the cumulative count of entries successfully
// reconciled, for the testable "totalCompleted" property in spec.md §8.
func (r *Reconciler) TotalCompleted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalCompleted
}

// Tick runs one reconciliation pass synchronously; exported so callers
// (e.g. a "reconcile-once" CLI subcommand) can drive it outside the
// periodic loop. Unhandled per-session errors are logged and never
// propagate, so one bad session can't stall the others.
func (r *Reconciler) Tick(ctx context.Context) {
	r.tick(ctx)
}

func (r *Reconciler) tick(ctx context.Context) {
	// Every tick gets its own correlation ID, so the log lines for every
	// session and entry this pass touches can be grepped out from the
	// surrounding ticks even though they interleave across goroutines.
	ctx = logger.WithRequestID(ctx, logger.GenerateRequestID())
	log := logger.FromContext(ctx, r.logger)

	sessions, err := r.outbox.ListSessions(ctx)
	if err != nil {
		log.Error("reconciler failed to enumerate outbox sessions", "error", err)
		if r.metrics != nil {
			r.metrics.RecordFailure("list_sessions")
		}
		return
	}

	sem := make(chan struct{}, r.config.Concurrency)
	var wg sync.WaitGroup
	for _, sessionId := range sessions {
		wg.Add(1)
		go func(id authstate.SessionId) {
			defer wg.Done()
			r.processSession(ctx, id, sem)
		}(sessionId)
	}
	wg.Wait()
}

// processSession processes one session's pending entries in ascending
// version order, acquiring the shared concurrency semaphore per entry so
// the bound applies across sessions rather than per-session.
func (r *Reconciler) processSession(ctx context.Context, sessionId authstate.SessionId, sem chan struct{}) {
	log := logger.FromContext(ctx, r.logger)
	pending, err := r.outbox.GetPending(ctx, sessionId)
	if err != nil {
		log.Error("reconciler failed to read pending entries", "session_id", sessionId, "error", err)
		if r.metrics != nil {
			r.metrics.RecordFailure("get_pending")
		}
		return
	}

	for _, entry := range pending {
		sem <- struct{}{}
		r.processEntry(ctx, entry)
		<-sem
	}
}

func (r *Reconciler) processEntry(ctx context.Context, entry outbox.Entry) {
	log := logger.FromContext(ctx, r.logger)
	start := time.Now()

	if _, err := r.outbox.MarkProcessing(ctx, entry.SessionId, entry.Version); err != nil {
		log.Error("reconciler failed to mark entry processing", "session_id", entry.SessionId, "version", entry.Version, "error", err)
		return
	}

	var upsertErr error
	fireErr := r.breaker.Fire(ctx, func(ctx context.Context) error {
		_, err := r.durable.Upsert(ctx, entry.SessionId, entry.Patch, entry.Version-1, entry.FencingToken)
		upsertErr = err
		return err
	})
	latency := time.Since(start).Seconds()

	if fireErr == nil {
		if err := r.outbox.MarkCompleted(ctx, entry.SessionId, entry.Version); err != nil {
			log.Error("reconciler failed to mark entry completed", "session_id", entry.SessionId, "version", entry.Version, "error", err)
		}
		r.mu.Lock()
		r.totalCompleted++
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.RecordLatency("success", latency)
		}
		return
	}

	cause := fireErr
	if upsertErr != nil {
		cause = upsertErr
	}

	if entry.Attempts >= outbox.MaxAttempts-1 {
		if err := r.outbox.MoveToDeadLetter(ctx, entry.SessionId, entry.Version, cause); err != nil {
			log.Error("reconciler failed to move entry to dead-letter", "session_id", entry.SessionId, "version", entry.Version, "error", err)
		}
		if r.metrics != nil {
			r.metrics.RecordFailure("dead_letter")
		}
	} else {
		if err := r.outbox.MarkFailed(ctx, entry.SessionId, entry.Version, cause); err != nil {
			log.Error("reconciler failed to mark entry failed", "session_id", entry.SessionId, "version", entry.Version, "error", err)
		}
		if r.metrics != nil {
			r.metrics.RecordFailure("retry_scheduled")
		}
	}
	if r.metrics != nil {
		r.metrics.RecordLatency("failure", latency)
	}
}
