// Package resilience provides the retry/backoff and error-classification
// primitives shared by the durable tier and the reconciler.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("resilience: maximum retry attempts exceeded")

	// ErrNonRetryable marks an error explicitly excluded from retrying.
	ErrNonRetryable = errors.New("resilience: error is not retryable")
)

// RetryableErrorChecker determines if an error should trigger a retry
// attempt. Implementations return true for transient errors (network
// timeouts, temporary service unavailability) and false for permanent ones.
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultErrorChecker treats network errors, timeouts, and the stdlib
// "temporary"/"timeout" interfaces as retryable.
type DefaultErrorChecker struct{}

func (c *DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	if isTransientNetworkError(err) {
		return true
	}
	if isTimeoutError(err) {
		return true
	}
	type temporary interface {
		Temporary() bool
	}
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return false
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "context deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	type timeout interface {
		Timeout() bool
	}
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

// DuplicateKeyErrorChecker marks Postgres duplicate-key-violation-style
// errors (23505) as retryable, for the durable tier's upsert-with-
// version-guard retry loop; it falls back to DefaultErrorChecker
// otherwise.
type DuplicateKeyErrorChecker struct{}

func (c *DuplicateKeyErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), "23505") || strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
		return true
	}
	return (&DefaultErrorChecker{}).IsRetryable(err)
}

// ChainedErrorChecker returns true if any checker in the chain does.
type ChainedErrorChecker struct {
	Checkers []RetryableErrorChecker
}

func (c *ChainedErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, checker := range c.Checkers {
		if checker.IsRetryable(err) {
			return true
		}
	}
	return false
}

// NeverRetryChecker always returns false.
type NeverRetryChecker struct{}

func (c *NeverRetryChecker) IsRetryable(err error) bool { return false }

// AlwaysRetryChecker returns true for any non-nil error.
type AlwaysRetryChecker struct{}

func (c *AlwaysRetryChecker) IsRetryable(err error) bool { return err != nil }
