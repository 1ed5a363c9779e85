package orchestrator

import "time"

// Metrics is the subset of the process registry the orchestrator records
// into, decoupled from the concrete metrics type the way internal/breaker
// and internal/reconciler decouple their own recorder interfaces.
type Metrics interface {
	RecordHit(sessionId string)
	RecordMiss(sessionId string)
	RecordFallback(sessionId string)
	RecordQueuePublish(sessionId string)
	RecordQueueFailure(sessionId string)
	RecordDirectWrite(sessionId string)
	RecordVersionConflict(sessionId string)
	RecordCacheWarming(sessionId, outcome string)
	RecordOperationTimeout(operation string)
	RecordBatchOperation(operation, outcome string, duration time.Duration)
	ObserveLatency(operation string, duration time.Duration)

	// ScrapeText renders the process registry in Prometheus text
	// exposition format, backing getMetricsText().
	ScrapeText() (string, error)
}
