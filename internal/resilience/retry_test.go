package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	err := WithRetry(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	policy := &RetryPolicy{
		MaxRetries:   5,
		BaseDelay:    time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
		ErrorChecker: &NeverRetryChecker{},
	}

	err := WithRetry(context.Background(), policy, func() error {
		attempts++
		return errors.New("fatal")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, policy, func() error {
		return errors.New("still failing")
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestWithRetryFuncReturnsResultOnSuccess(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	val, err := WithRetryFunc(context.Background(), policy, func() (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestClassifyErrorLabels(t *testing.T) {
	assert.Equal(t, "none", ClassifyError(nil))
	assert.Equal(t, "context_cancelled", ClassifyError(context.Canceled))
	assert.Equal(t, "context_deadline", ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, "timeout", ClassifyError(errors.New("i/o timeout")))
	assert.Equal(t, "unknown", ClassifyError(errors.New("some weird failure")))
}

func TestDuplicateKeyErrorCheckerRetriesPgConflict(t *testing.T) {
	checker := &DuplicateKeyErrorChecker{}
	assert.True(t, checker.IsRetryable(errors.New("pq: duplicate key value violates unique constraint (SQLSTATE 23505)")))
}
