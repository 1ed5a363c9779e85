package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyError returns a short label for an error, used for metrics
// labeling across the durable tier and the reconciler (e.g. the
// outbox-reconciler failure counter's error_class label).
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"), strings.Contains(msg, "dial"):
		return "network"
	case strings.Contains(msg, "circuit breaker"), strings.Contains(msg, "breaker open"):
		return "breaker_open"
	case strings.Contains(msg, "version conflict"):
		return "version_conflict"
	default:
		return "unknown"
	}
}
