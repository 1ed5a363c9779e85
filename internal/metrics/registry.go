// Package metrics implements C8, the process-wide metrics registry: the
// counters, gauges, and histograms named in spec.md §6, exposed in
// Prometheus scrape-text format. It adapts the teacher's lazily
// initialized, category-based MetricsRegistry (pkg/metrics/registry.go)
// but replaces the Business/Technical/Infra split with the auth-store's
// own subsystems, one per component sharing the registry.
package metrics

import (
	"bytes"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry holds every counter/gauge/histogram the orchestrator, fast
// tier, durable tier, outbox, reconciler, and breaker record into.
// Metrics are eagerly constructed (unlike the teacher's per-category lazy
// init) since every SPEC_FULL.md component always shares one instance
// constructed once at startup.
type Registry struct {
	namespace string
	reg       *prometheus.Registry

	RedisHitsTotal       *prometheus.CounterVec
	RedisMissesTotal     *prometheus.CounterVec
	MongoFallbacksTotal  *prometheus.CounterVec
	QueuePublishesTotal  *prometheus.CounterVec
	QueueFailuresTotal   *prometheus.CounterVec
	DirectWritesTotal    *prometheus.CounterVec
	BreakerOpenTotal     *prometheus.CounterVec
	BreakerCloseTotal    *prometheus.CounterVec
	BreakerHalfOpenTotal *prometheus.CounterVec
	VersionConflictsTotal *prometheus.CounterVec
	CacheWarmingTotal    *prometheus.CounterVec
	OperationTimeoutsTotal *prometheus.CounterVec
	ReconcilerFailuresTotal *prometheus.CounterVec
	BatchOperationsTotal *prometheus.CounterVec

	OperationLatencySeconds          *prometheus.HistogramVec
	ReconcilerLatencySeconds         *prometheus.HistogramVec
	BatchOperationsDurationSeconds   *prometheus.HistogramVec
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton Registry, mirroring the
// teacher's DefaultRegistry() singleton idiom.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New("authstore")
	})
	return defaultRegistry
}

// New constructs a Registry with its own prometheus.Registry (rather than
// the global default registerer), so multiple orchestrator instances in
// the same process (e.g. in tests) don't collide on metric registration.
func New(namespace string) *Registry {
	if namespace == "" {
		namespace = "authstore"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{namespace: namespace, reg: reg}

	r.RedisHitsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "redis_hits_total", Help: "Fast-tier read hits.",
	}, []string{"session_id"})
	r.RedisMissesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "redis_misses_total", Help: "Fast-tier read misses.",
	}, []string{"session_id"})
	r.MongoFallbacksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "mongo_fallbacks_total", Help: "Durable-tier fallback reads after a fast-tier miss.",
	}, []string{"session_id"})
	r.QueuePublishesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "queue_publishes_total", Help: "External persistence-job publishes.",
	}, []string{"session_id"})
	r.QueueFailuresTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "queue_failures_total", Help: "External queue publish failures (write-behind fallback trigger).",
	}, []string{"session_id"})
	r.DirectWritesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "direct_writes_total", Help: "Durable-tier writes performed synchronously (write-through, or write-behind fallback).",
	}, []string{"session_id"})
	r.BreakerOpenTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "circuit_breaker_open_total", Help: "Circuit breaker transitions into OPEN.",
	}, []string{"target"})
	r.BreakerCloseTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "circuit_breaker_close_total", Help: "Circuit breaker transitions into CLOSED.",
	}, []string{"target"})
	r.BreakerHalfOpenTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "circuit_breaker_halfopen_total", Help: "Circuit breaker transitions into HALF_OPEN.",
	}, []string{"target"})
	r.VersionConflictsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "version_conflicts_total", Help: "Optimistic-locking conflicts surfaced from set().",
	}, []string{"session_id"})
	r.CacheWarmingTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "cache_warming_total", Help: "Cache-warming attempts, labeled by outcome.",
	}, []string{"session_id", "outcome"})
	r.OperationTimeoutsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "operation_timeouts_total", Help: "Public operations that exceeded the configured operation timeout.",
	}, []string{"operation"})
	r.ReconcilerFailuresTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "outbox_reconciler_failures_total", Help: "Reconciler entry processing failures, labeled by error class.",
	}, []string{"error_class"})
	r.BatchOperationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "batch_operations_total", Help: "Batch operations, labeled by operation type and outcome.",
	}, []string{"operation", "outcome"})

	r.OperationLatencySeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "operation_latency_seconds", Help: "Latency of public orchestrator operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	r.ReconcilerLatencySeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "outbox_reconciler_latency_seconds", Help: "Per-entry reconciler processing latency, labeled by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	r.BatchOperationsDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "batch_operations_duration_seconds", Help: "Duration of batch operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	return r
}

// Namespace returns the configured metric namespace.
func (r *Registry) Namespace() string { return r.namespace }

// ScrapeText renders every registered metric family in the Prometheus
// text exposition format, for getMetricsText().
func (r *Registry) ScrapeText() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// RecordTransition implements breaker.TransitionRecorder.
func (r *Registry) RecordTransition(target, fromState, toState string) {
	switch toState {
	case "open":
		r.BreakerOpenTotal.WithLabelValues(target).Inc()
	case "closed":
		r.BreakerCloseTotal.WithLabelValues(target).Inc()
	case "half-open":
		r.BreakerHalfOpenTotal.WithLabelValues(target).Inc()
	}
}

// RetryMetrics adapts Registry to resilience.RetryRecorder for the
// durable tier's and reconciler's retry policies.
type RetryMetrics struct {
	r *Registry
}

// Retry returns a resilience.RetryRecorder backed by this registry's
// reconciler-failure counter and operation-latency histogram.
func (r *Registry) Retry() *RetryMetrics { return &RetryMetrics{r: r} }

func (m *RetryMetrics) RecordAttempt(operation, outcome, errorClass string, durationSeconds float64) {
	if outcome == "failure" {
		m.r.ReconcilerFailuresTotal.WithLabelValues(errorClass).Inc()
	}
	m.r.OperationLatencySeconds.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {}

func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {}

// ReconcilerMetrics adapts Registry to reconciler.Metrics.
type ReconcilerMetrics struct {
	r *Registry
}

// Reconciler returns a reconciler.Metrics backed by this registry's
// reconciler latency histogram and failure counter.
func (r *Registry) Reconciler() *ReconcilerMetrics { return &ReconcilerMetrics{r: r} }

func (m *ReconcilerMetrics) RecordLatency(outcome string, seconds float64) {
	m.r.ReconcilerLatencySeconds.WithLabelValues(outcome).Observe(seconds)
}

func (m *ReconcilerMetrics) RecordFailure(errorClass string) {
	m.r.ReconcilerFailuresTotal.WithLabelValues(errorClass).Inc()
}

// OrchestratorMetrics adapts Registry to orchestrator.Metrics.
type OrchestratorMetrics struct {
	r *Registry
}

// Orchestrator returns an orchestrator.Metrics backed by this registry.
func (r *Registry) Orchestrator() *OrchestratorMetrics { return &OrchestratorMetrics{r: r} }

// ScrapeText implements orchestrator.Metrics by delegating to the
// underlying registry's text exposition.
func (m *OrchestratorMetrics) ScrapeText() (string, error) { return m.r.ScrapeText() }

func (m *OrchestratorMetrics) RecordHit(sessionId string) {
	m.r.RedisHitsTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordMiss(sessionId string) {
	m.r.RedisMissesTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordFallback(sessionId string) {
	m.r.MongoFallbacksTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordQueuePublish(sessionId string) {
	m.r.QueuePublishesTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordQueueFailure(sessionId string) {
	m.r.QueueFailuresTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordDirectWrite(sessionId string) {
	m.r.DirectWritesTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordVersionConflict(sessionId string) {
	m.r.VersionConflictsTotal.WithLabelValues(sessionId).Inc()
}

func (m *OrchestratorMetrics) RecordCacheWarming(sessionId, outcome string) {
	m.r.CacheWarmingTotal.WithLabelValues(sessionId, outcome).Inc()
}

func (m *OrchestratorMetrics) RecordOperationTimeout(operation string) {
	m.r.OperationTimeoutsTotal.WithLabelValues(operation).Inc()
}

func (m *OrchestratorMetrics) RecordBatchOperation(operation, outcome string, duration time.Duration) {
	m.r.BatchOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.r.BatchOperationsDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *OrchestratorMetrics) ObserveLatency(operation string, duration time.Duration) {
	m.r.OperationLatencySeconds.WithLabelValues(operation).Observe(duration.Seconds())
}
