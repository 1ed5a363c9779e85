package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryRecorder receives retry-attempt observations for metrics. Defined
// here (rather than importing the metrics package directly) so this
// package has no dependency on the metrics registry's concrete type.
type RetryRecorder interface {
	RecordAttempt(operation, outcome, errorClass string, durationSeconds float64)
	RecordBackoff(operation string, delaySeconds float64)
	RecordFinalAttempt(operation, outcome string, attempts int)
}

// RetryPolicy configures exponential backoff with jitter, mirroring the
// teacher's core/resilience.RetryPolicy shape.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	ErrorChecker  RetryableErrorChecker
	Logger        *slog.Logger
	Metrics       RetryRecorder
	OperationName string
}

// DefaultRetryPolicy mirrors spec.md §4.2's durable-tier defaults: base
// delay, multiplier, and max-retries are sourced from HybridConfig in
// practice; this is the fallback when none is supplied.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry executes operation according to policy, retrying transient
// failures with exponential backoff. Context cancellation during a
// backoff wait returns ctx.Err() immediately.
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opName := policy.OperationName
	if opName == "" {
		opName = "unknown"
	}
	startTime := time.Now()

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attemptStart := time.Now()
		err := operation()
		attemptDuration := time.Since(attemptStart).Seconds()

		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "success", "none", attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "success", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping retry loop", "error", err, "attempt", attempt+1)
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "failure", ClassifyError(err), attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempt+1)
			}
			return lastErr
		}

		if policy.Metrics != nil {
			policy.Metrics.RecordAttempt(opName, "failure", ClassifyError(err), attemptDuration)
		}

		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempt+1)
			}
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(opName, delay.Seconds())
		}

		if !waitWithContext(ctx, delay) {
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "cancelled", ClassifyError(ctx.Err()), time.Since(startTime).Seconds())
				policy.Metrics.RecordFinalAttempt(opName, "cancelled", attempt+1)
			}
			return ctx.Err()
		}
		delay = calculateNextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

// WithRetryFunc is WithRetry for operations returning a result.
func WithRetryFunc[T any](ctx context.Context, policy *RetryPolicy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return result, nil
		}
		lastResult, lastErr = result, err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping retry loop", "error", err, "attempt", attempt+1)
			return lastResult, lastErr
		}
		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)
		if !waitWithContext(ctx, delay) {
			var zero T
			return zero, ctx.Err()
		}
		delay = calculateNextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker RetryableErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func calculateNextDelay(currentDelay time.Duration, policy *RetryPolicy) time.Duration {
	nextDelay := time.Duration(float64(currentDelay) * policy.Multiplier)
	if nextDelay > policy.MaxDelay {
		nextDelay = policy.MaxDelay
	}
	if policy.Jitter {
		jitterAmount := time.Duration(float64(nextDelay) * 0.1 * rand.Float64())
		nextDelay += jitterAmount
	}
	return nextDelay
}
