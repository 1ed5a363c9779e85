// Package breaker implements C5, the circuit breaker shielding the
// durable tier from sustained failure. It extends the teacher's
// count-threshold CircuitBreaker
// (infrastructure/publishing/circuit_breaker.go) into the rolling
// error-rate-window design spec.md §4.5 requires: instead of tripping
// after N consecutive failures, it trips when the error rate over a
// sliding window of buckets crosses a threshold.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State mirrors the teacher's CircuitBreakerState enum and String method.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the rolling-window breaker per spec.md §4.5.
type Config struct {
	// CallTimeout bounds each call made through Fire.
	CallTimeout time.Duration
	// ErrorRateThreshold is the fraction (0..1) of failed calls within
	// the rolling window that trips CLOSED -> OPEN.
	ErrorRateThreshold float64
	// WindowDuration is the total span of the rolling window.
	WindowDuration time.Duration
	// BucketCount is the number of buckets the window is divided into.
	BucketCount int
	// ResetTimeout is the cooldown before OPEN transitions to HALF_OPEN.
	ResetTimeout time.Duration
	// HalfOpenSuccessThreshold is the number of consecutive successful
	// canary calls required to close from HALF_OPEN.
	HalfOpenSuccessThreshold int
	// MinimumRequests is the minimum number of calls observed in the
	// window before the error rate is evaluated, avoiding tripping on a
	// single early failure.
	MinimumRequests int
	// HalfOpenCanaryRate bounds how many canary calls per second are let
	// through while HALF_OPEN, so a burst of concurrent callers doesn't
	// all probe the still-possibly-broken target at once. Defaults to 1.
	HalfOpenCanaryRate float64
}

// DefaultConfig mirrors spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:              3 * time.Second,
		ErrorRateThreshold:       0.5,
		WindowDuration:           10 * time.Second,
		BucketCount:              10,
		ResetTimeout:             30 * time.Second,
		HalfOpenSuccessThreshold: 1,
		MinimumRequests:          5,
		HalfOpenCanaryRate:       1,
	}
}

// TransitionRecorder receives state-transition and outcome observations
// for the metrics registry, decoupling this package from the concrete
// metrics type.
type TransitionRecorder interface {
	RecordTransition(target, fromState, toState string)
}

// bucket accumulates successes/failures for one slice of the rolling
// window.
type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// Breaker is a rolling-window circuit breaker. Target identifies what it
// protects (e.g. "durable-tier") for logging and metrics labels.
type Breaker struct {
	config  Config
	target  string
	logger  *slog.Logger
	metrics TransitionRecorder

	mu                sync.Mutex
	state             State
	buckets           []bucket
	openedAt          time.Time
	halfOpenSuccesses int
	canaryLimiter     *rate.Limiter
}

// New constructs a Breaker in the CLOSED state.
func New(target string, config Config, logger *slog.Logger, metrics TransitionRecorder) *Breaker {
	if config.BucketCount <= 0 {
		config.BucketCount = 10
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = 10 * time.Second
	}
	if config.HalfOpenCanaryRate <= 0 {
		config.HalfOpenCanaryRate = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		config:  config,
		target:  target,
		logger:  logger,
		metrics: metrics,
		state:   StateClosed,
		buckets: make([]bucket, 0, config.BucketCount),
	}
}

func (b *Breaker) bucketWidth() time.Duration {
	return b.config.WindowDuration / time.Duration(b.config.BucketCount)
}

// currentBucket returns (creating if needed) the bucket for "now",
// pruning buckets that have aged out of the window.
func (b *Breaker) currentBucket(now time.Time) *bucket {
	width := b.bucketWidth()
	cutoff := now.Add(-b.config.WindowDuration)

	kept := b.buckets[:0]
	for _, bk := range b.buckets {
		if bk.start.After(cutoff) {
			kept = append(kept, bk)
		}
	}
	b.buckets = kept

	if n := len(b.buckets); n > 0 {
		last := &b.buckets[n-1]
		if now.Sub(last.start) < width {
			return last
		}
	}

	b.buckets = append(b.buckets, bucket{start: now})
	return &b.buckets[len(b.buckets)-1]
}

func (b *Breaker) errorRate(now time.Time) (rate float64, total int) {
	cutoff := now.Add(-b.config.WindowDuration)
	var successes, failures int
	for _, bk := range b.buckets {
		if bk.start.Before(cutoff) {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	total = successes + failures
	if total == 0 {
		return 0, 0
	}
	return float64(failures) / float64(total), total
}

// CanAttempt reports whether a call may proceed without consuming it,
// mirroring the teacher's CanAttempt but driven by the rolling window.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canAttemptLocked(time.Now())
}

func (b *Breaker) canAttemptLocked(now time.Time) bool {
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.config.ResetTimeout {
			b.transition(StateHalfOpen, now)
			return true
		}
		return false
	case StateHalfOpen:
		return b.canaryLimiter != nil && b.canaryLimiter.AllowN(now, 1)
	default:
		return false
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = now
		b.halfOpenSuccesses = 0
	case StateHalfOpen:
		b.halfOpenSuccesses = 0
		b.canaryLimiter = rate.NewLimiter(rate.Limit(b.config.HalfOpenCanaryRate), 1)
	case StateClosed:
		b.buckets = b.buckets[:0]
		b.halfOpenSuccesses = 0
	}
	b.logger.Info("circuit breaker transition", "target", b.target, "from", from.String(), "to", to.String())
	if b.metrics != nil {
		b.metrics.RecordTransition(b.target, from.String(), to.String())
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()

	switch b.state {
	case StateClosed:
		bk := b.currentBucket(now)
		bk.successes++
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenSuccessThreshold {
			b.transition(StateClosed, now)
		}
	case StateOpen:
		// Stray success observed after timeout elapsed but before the
		// next CanAttempt call flipped us to half-open; ignore.
	}
}

// RecordFailure records a failed call outcome, including per-call
// timeout failures (which count toward the error-rate threshold per
// spec.md §4.5).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()

	switch b.state {
	case StateClosed:
		bk := b.currentBucket(now)
		bk.failures++
		if rate, total := b.errorRate(now); total >= b.config.MinimumRequests && rate >= b.config.ErrorRateThreshold {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	case StateOpen:
		b.openedAt = now
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot for getCircuitBreakerStats().
type Stats struct {
	Target    string  `json:"target"`
	State     string  `json:"state"`
	ErrorRate float64 `json:"errorRate"`
	Requests  int     `json:"requests"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	rate, total := b.errorRate(time.Now())
	return Stats{Target: b.target, State: b.state.String(), ErrorRate: rate, Requests: total}
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed, time.Now())
}

// ErrOpen is returned by Fire when the breaker is OPEN.
type ErrOpen struct{ Target string }

func (e *ErrOpen) Error() string { return "breaker open for " + e.Target }

// Fire runs fn under the breaker's per-call timeout, recording the
// outcome. When OPEN, it fails immediately with *ErrOpen without
// invoking fn, per spec.md §4.5's contract.
func (b *Breaker) Fire(ctx context.Context, fn func(context.Context) error) error {
	if !b.CanAttempt() {
		return &ErrOpen{Target: b.target}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
