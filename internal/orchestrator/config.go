package orchestrator

import (
	"time"

	"github.com/luoarch/go-auth-store/internal/reconciler"
)

// Config controls the orchestrator's own behavior, distinct from the
// per-tier Config types: default TTL applied to Fast-Tier writes and
// cache-warming, whether write-behind persistence is enabled, and the
// reconciler's tick settings. It is the slice of HybridConfig (spec.md
// §6) the orchestrator itself consumes; the remaining HybridConfig
// fields (ttl/resilience/security/observability) configure the tier and
// breaker constructors directly and are not duplicated here.
type Config struct {
	// DefaultTTL is applied to Fast-Tier writes and cache-warming when a
	// caller does not specify one.
	DefaultTTL time.Duration

	// EnableWriteBehind selects the write path: true routes writes
	// through the outbox + external queue (falling back to a direct
	// Durable write on queue failure); false always writes Durable
	// directly and synchronously (write-through).
	EnableWriteBehind bool

	// QueueJobName is the job name enqueued on the external queue for a
	// write-behind persistence job.
	QueueJobName string

	// ReconcilerConfig configures the reconciler Connect constructs when
	// write-behind is enabled; the zero value falls back to
	// reconciler.DefaultConfig().
	ReconcilerConfig reconciler.Config

	// ReconcilerMetrics, when set, is passed to the reconciler Connect
	// constructs, decoupling the orchestrator from the concrete metrics
	// registry the way Metrics decouples the orchestrator's own records.
	ReconcilerMetrics reconciler.Metrics
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL:        15 * time.Minute,
		EnableWriteBehind: false,
		QueueJobName:      "persist-auth-state",
		ReconcilerConfig:  reconciler.DefaultConfig(),
	}
}
