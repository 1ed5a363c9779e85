// Package orchestrator implements C7, the public hybrid-store facade
// wiring the fast tier, durable tier, outbox, reconciler, breaker, and
// per-session lock table into the single get/set/delete/touch/exists
// surface spec.md §4.7 describes. Its read-through/write-through/
// write-behind policy and fire-and-forget cache-warming idiom are
// grounded on the teacher's database/postgres/health.go composite
// health checker and infrastructure/cache layering, generalized from a
// read-only cache-aside wrapper into a full two-tier orchestrator.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luoarch/go-auth-store/internal/authstate"
	"github.com/luoarch/go-auth-store/internal/breaker"
	"github.com/luoarch/go-auth-store/internal/durabletier"
	"github.com/luoarch/go-auth-store/internal/fasttier"
	"github.com/luoarch/go-auth-store/internal/locktable"
	"github.com/luoarch/go-auth-store/internal/outbox"
	"github.com/luoarch/go-auth-store/internal/reconciler"
	"github.com/luoarch/go-auth-store/pkg/logger"
)

// Orchestrator is the hybrid auth-state store: every public operation in
// spec.md §4.7 is a method on this type.
type Orchestrator struct {
	config Config
	logger *slog.Logger

	fast    fasttier.Store
	durable durabletier.Store
	brk     *breaker.Breaker
	locks   *locktable.Table
	metrics Metrics

	outboxStore *outbox.Store
	recon       *reconciler.Reconciler
	queue       QueueAdapter

	mu        sync.RWMutex
	connected bool
}

// New wires an Orchestrator from already-constructed components. The
// outbox and reconciler are constructed lazily by Connect when
// write-behind is enabled and a queue is supplied, since both need the
// fast tier's live connection handle (spec.md §6: the outbox "shares the
// Fast-Tier connection").
func New(config Config, fast fasttier.Store, durable durabletier.Store, brk *breaker.Breaker, locks *locktable.Table, queue QueueAdapter, metrics Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = locktable.New(0, 0)
	}
	return &Orchestrator{
		config:  config,
		logger:  logger,
		fast:    fast,
		durable: durable,
		brk:     brk,
		locks:   locks,
		queue:   queue,
		metrics: metrics,
	}
}

// Connect connects both tiers in order (Fast, then Durable); on failure
// it wraps the cause in a hybrid-tier storage error without attempting
// the other tier. On success, if write-behind and a queue are both
// configured, it constructs the outbox sharing the Fast-Tier connection
// and starts the reconciler.
func (o *Orchestrator) Connect(ctx context.Context, fastConnect, durableConnect func(context.Context) error) error {
	if fastConnect != nil {
		if err := fastConnect(ctx); err != nil {
			return authstate.NewStorageError(authstate.TierHybrid, "connect", "fast_tier_connect_failed", err)
		}
	}
	if durableConnect != nil {
		if err := durableConnect(ctx); err != nil {
			return authstate.NewStorageError(authstate.TierHybrid, "connect", "durable_tier_connect_failed", err)
		}
	}

	if o.config.EnableWriteBehind && o.queue != nil {
		if client, ok := asRedisClient(o.fast.Client()); ok {
			reconConfig := o.config.ReconcilerConfig
			if reconConfig.Period == 0 {
				reconConfig = reconciler.DefaultConfig()
			}
			o.outboxStore = outbox.New(client, o.logger)
			o.recon = reconciler.New(o.outboxStore, o.durable, o.brk, reconConfig, o.logger, o.config.ReconcilerMetrics)
			o.recon.Start(ctx)
		} else {
			o.logger.Warn("write-behind enabled but fast-tier client is not Redis-backed; skipping outbox/reconciler wiring")
		}
	}

	o.mu.Lock()
	o.connected = true
	o.mu.Unlock()
	return nil
}

// Disconnect stops the reconciler, then closes the fast tier, durable
// tier, and external queue in parallel. Every error is logged and
// absorbed; disconnect itself never returns an error. The connected flag
// is cleared only when every close succeeded.
func (o *Orchestrator) Disconnect(ctx context.Context) {
	if o.recon != nil {
		o.recon.Stop()
	}

	var wg sync.WaitGroup
	var fastErr, durableErr, queueErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		fastErr = o.fast.Close()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		durableErr = o.durable.Close()
	}()
	if o.queue != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queueErr = o.queue.Close(ctx)
		}()
	}
	wg.Wait()

	clean := true
	if fastErr != nil {
		o.logger.Error("fast tier close failed during disconnect", "error", fastErr)
		clean = false
	}
	if durableErr != nil {
		o.logger.Error("durable tier close failed during disconnect", "error", durableErr)
		clean = false
	}
	if queueErr != nil {
		o.logger.Error("queue close failed during disconnect", "error", queueErr)
		clean = false
	}

	if clean {
		o.mu.Lock()
		o.connected = false
		o.mu.Unlock()
	}
}

// HealthReport is the additive, structured isHealthy() detail SPEC_FULL.md
// adds on top of the spec's bool-returning isHealthy contract.
type HealthReport struct {
	Connected   bool         `json:"connected"`
	FastTier    bool         `json:"fastTier"`
	DurableTier bool         `json:"durableTier"`
	Breaker     breaker.Stats `json:"breaker"`
}

// IsHealthy returns true iff connected AND both tiers report healthy.
func (o *Orchestrator) IsHealthy(ctx context.Context) bool {
	o.mu.RLock()
	connected := o.connected
	o.mu.RUnlock()
	if !connected {
		return false
	}
	return o.fast.IsHealthy(ctx) && o.durable.IsHealthy(ctx)
}

// Health returns the structured health report.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	o.mu.RLock()
	connected := o.connected
	o.mu.RUnlock()
	return HealthReport{
		Connected:   connected,
		FastTier:    o.fast.IsHealthy(ctx),
		DurableTier: o.durable.IsHealthy(ctx),
		Breaker:     o.brk.Stats(),
	}
}

// Get implements the read path from spec.md §4.7: Fast-Tier hit returns
// immediately; a miss or Fast-Tier error falls through to the Durable
// tier through the breaker; a Durable hit schedules fire-and-forget
// cache-warming; a breaker-open or Durable failure degrades to "not
// found" rather than surfacing an error.
func (o *Orchestrator) Get(ctx context.Context, id authstate.SessionId) (authstate.Versioned[authstate.AuthSnapshot], bool, error) {
	start := time.Now()
	defer func() { o.observeLatency("get", start) }()

	snap, found, err := o.fast.Get(ctx, id)
	if err == nil && found {
		o.recordHit(id)
		return snap, true, nil
	}
	o.recordMiss(id)

	var result authstate.Versioned[authstate.AuthSnapshot]
	var durFound bool
	fireErr := o.brk.Fire(ctx, func(ctx context.Context) error {
		var durErr error
		result, durFound, durErr = o.durable.Get(ctx, id)
		return durErr
	})
	if fireErr != nil {
		o.logger.Warn("durable tier read degraded to miss", "session_id", id, "error", fireErr)
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, nil
	}
	if !durFound {
		return authstate.Versioned[authstate.AuthSnapshot]{}, false, nil
	}

	o.recordFallback(id)
	warmCtx := context.WithoutCancel(ctx)
	go o.warmCache(warmCtx, id, result)
	return result, true, nil
}

// warmCache implements the TOCTOU-safe cache-warming protocol from
// spec.md §4.7: SetSnapshot's own CAS rejects a candidate that is no
// longer ahead of the stored version, and the rejection is swallowed
// here rather than surfaced to the original caller of Get.
func (o *Orchestrator) warmCache(ctx context.Context, id authstate.SessionId, snapshot authstate.Versioned[authstate.AuthSnapshot]) {
	err := o.fast.SetSnapshot(ctx, id, snapshot, o.config.DefaultTTL)
	switch {
	case err == nil:
		o.recordCacheWarming(id, "success")
	case fasttier.IsWarmingStale(err):
		o.recordCacheWarming(id, "stale")
	default:
		o.logger.Warn("cache warming failed", "session_id", id, "error", err)
		o.recordCacheWarming(id, "failure")
	}
}

// Set implements the write path from spec.md §4.7: acquire the
// per-session mutex, revive buffer-shaped values in the patch, write the
// Fast Tier under CAS (propagating VersionConflictError unchanged), then
// either enqueue a write-behind persistence job (falling back to a
// direct Durable write on queue failure) or write Durable directly and
// synchronously.
func (o *Orchestrator) Set(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, expectedVersion *uint64, fencingToken string) (authstate.VersionedResult, error) {
	start := time.Now()
	defer func() { o.observeLatency("set", start) }()

	if err := id.Validate(); err != nil {
		return authstate.VersionedResult{}, &authstate.ValidationError{Field: "sessionId", Reason: err.Error()}
	}
	revived, err := authstate.ReviveBuffersInPatch(patch)
	if err != nil {
		return authstate.VersionedResult{}, &authstate.ValidationError{Field: "patch", Reason: err.Error()}
	}

	var result authstate.VersionedResult
	lockErr := o.locks.RunExclusive(ctx, id, func(ctx context.Context) error {
		setResult, setErr := o.fast.Set(ctx, id, revived, expectedVersion, o.config.DefaultTTL)
		if setErr != nil {
			if authstate.IsVersionConflict(setErr) {
				o.recordVersionConflict(id)
			}
			return setErr
		}
		result = setResult

		token := fencingToken
		if token == "" {
			token = outbox.NewFencingToken()
		}

		if o.config.EnableWriteBehind && o.queue != nil {
			return o.writeBehind(ctx, id, revived, result.Version, token)
		}
		return o.writeThrough(ctx, id, revived, result.Version, token)
	})
	if lockErr != nil {
		return authstate.VersionedResult{}, lockErr
	}
	return result, nil
}

// writeBehind records the patch in the outbox, enqueues the persistence
// job, and falls back to a direct, blocking Durable write (marking the
// outbox entry completed immediately) if the enqueue itself fails.
func (o *Orchestrator) writeBehind(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, version uint64, fencingToken string) error {
	log := logger.FromContext(ctx, o.logger)
	if o.outboxStore == nil {
		return o.writeThrough(ctx, id, patch, version, fencingToken)
	}
	if err := o.outboxStore.Add(ctx, id, patch, version, fencingToken); err != nil {
		log.Error("outbox add failed, falling back to direct durable write", "session_id", id, "error", err)
		return o.writeDurableDirect(ctx, id, patch, version, fencingToken)
	}

	payload := QueueJobPayload{SessionId: id, Patch: patch, Version: version, FencingToken: fencingToken, Timestamp: time.Now().UTC()}
	if err := o.queue.Add(ctx, o.config.QueueJobName, payload); err != nil {
		o.recordQueueFailure(id)
		log.Warn("queue publish failed, falling back to direct durable write", "session_id", id, "error", err)
		if derr := o.writeDurableDirect(ctx, id, patch, version, fencingToken); derr != nil {
			return derr
		}
		return o.outboxStore.MarkCompleted(ctx, id, version)
	}
	o.recordQueuePublish(id)
	return nil
}

// writeThrough writes Durable directly and synchronously, the path taken
// when write-behind is disabled.
func (o *Orchestrator) writeThrough(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, version uint64, fencingToken string) error {
	return o.writeDurableDirect(ctx, id, patch, version, fencingToken)
}

func (o *Orchestrator) writeDurableDirect(ctx context.Context, id authstate.SessionId, patch authstate.AuthPatch, version uint64, fencingToken string) error {
	err := o.brk.Fire(ctx, func(ctx context.Context) error {
		_, derr := o.durable.Upsert(ctx, id, patch, version-1, fencingToken)
		return derr
	})
	if err != nil {
		logger.FromContext(ctx, o.logger).Error("durable direct write failed", "session_id", id, "error", err)
		return err
	}
	o.recordDirectWrite(id)
	return nil
}

// Delete applies to both tiers in parallel. A single-tier failure is
// logged as a partial-success warning and still reports success; both
// tiers failing raises a storage error.
func (o *Orchestrator) Delete(ctx context.Context, id authstate.SessionId) error {
	var fastErr, durableErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); fastErr = o.fast.Delete(ctx, id) }()
	go func() { defer wg.Done(); durableErr = o.durable.Delete(ctx, id) }()
	wg.Wait()

	if fastErr != nil && durableErr != nil {
		return authstate.NewStorageError(authstate.TierHybrid, "delete", "both_tiers_failed", fmt.Errorf("fast: %v, durable: %v", fastErr, durableErr))
	}
	if fastErr != nil {
		o.logger.Warn("partial delete success: fast tier failed", "session_id", id, "error", fastErr)
	}
	if durableErr != nil {
		o.logger.Warn("partial delete success: durable tier failed", "session_id", id, "error", durableErr)
	}
	return nil
}

// Touch applies to both tiers in parallel with the same partial-success
// policy as Delete.
func (o *Orchestrator) Touch(ctx context.Context, id authstate.SessionId, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = o.config.DefaultTTL
	}
	var fastErr, durableErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); fastErr = o.fast.Touch(ctx, id, ttl) }()
	go func() { defer wg.Done(); durableErr = o.durable.Touch(ctx, id, ttl) }()
	wg.Wait()

	if fastErr != nil && durableErr != nil {
		return authstate.NewStorageError(authstate.TierHybrid, "touch", "both_tiers_failed", fmt.Errorf("fast: %v, durable: %v", fastErr, durableErr))
	}
	if fastErr != nil {
		o.logger.Warn("partial touch success: fast tier failed", "session_id", id, "error", fastErr)
	}
	if durableErr != nil {
		o.logger.Warn("partial touch success: durable tier failed", "session_id", id, "error", durableErr)
	}
	return nil
}

// Exists short-circuits on a Fast-Tier positive result, consulting the
// Durable tier only when the fast tier reports absent.
func (o *Orchestrator) Exists(ctx context.Context, id authstate.SessionId) (bool, error) {
	fastExists, err := o.fast.Exists(ctx, id)
	if err == nil && fastExists {
		return true, nil
	}
	return o.durable.Exists(ctx, id)
}

// BatchResult pairs a session's Get outcome for batchGet().
type BatchResult struct {
	SessionId authstate.SessionId
	Snapshot  authstate.Versioned[authstate.AuthSnapshot]
	Found     bool
	Err       error
}

// BatchGet fans Get out across every requested session concurrently,
// each session going through the same Fast-Tier-hit / Durable-fallback
// path as a single Get. One session's error never aborts the others.
func (o *Orchestrator) BatchGet(ctx context.Context, ids []authstate.SessionId) []BatchResult {
	start := time.Now()
	results := make([]BatchResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id authstate.SessionId) {
			defer wg.Done()
			snap, found, err := o.Get(ctx, id)
			results[i] = BatchResult{SessionId: id, Snapshot: snap, Found: found, Err: err}
		}(i, id)
	}
	wg.Wait()

	outcome := "success"
	for _, r := range results {
		if r.Err != nil {
			outcome = "partial_failure"
			break
		}
	}
	if o.metrics != nil {
		o.metrics.RecordBatchOperation("batch_get", outcome, time.Since(start))
	}
	return results
}

// BatchDeleteResult pairs a session's Delete outcome for batchDelete().
type BatchDeleteResult struct {
	SessionId authstate.SessionId
	Err       error
}

// BatchDelete fans Delete out across every requested session
// concurrently, each going through the same parallel-both-tiers,
// partial-success-is-still-success path as a single Delete.
func (o *Orchestrator) BatchDelete(ctx context.Context, ids []authstate.SessionId) []BatchDeleteResult {
	start := time.Now()
	results := make([]BatchDeleteResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id authstate.SessionId) {
			defer wg.Done()
			results[i] = BatchDeleteResult{SessionId: id, Err: o.Delete(ctx, id)}
		}(i, id)
	}
	wg.Wait()

	outcome := "success"
	for _, r := range results {
		if r.Err != nil {
			outcome = "partial_failure"
			break
		}
	}
	if o.metrics != nil {
		o.metrics.RecordBatchOperation("batch_delete", outcome, time.Since(start))
	}
	return results
}

// GetMetricsText renders the process metrics registry in Prometheus
// text exposition format, for getMetricsText(). Returns an empty string
// when no metrics recorder was configured.
func (o *Orchestrator) GetMetricsText() (string, error) {
	if o.metrics == nil {
		return "", nil
	}
	return o.metrics.ScrapeText()
}

// GetCircuitBreakerStats exposes the durable-tier breaker's rolling-window
// snapshot for getCircuitBreakerStats().
func (o *Orchestrator) GetCircuitBreakerStats() breaker.Stats { return o.brk.Stats() }

// IsBreakerOpen reports whether the durable-tier breaker is currently OPEN.
func (o *Orchestrator) IsBreakerOpen() bool { return o.brk.State() == breaker.StateOpen }

// GetOutboxStats reports the dead-letter queue depth, or zero if the
// outbox was never constructed (write-behind disabled).
func (o *Orchestrator) GetOutboxStats(ctx context.Context) (int64, error) {
	if o.outboxStore == nil {
		return 0, nil
	}
	return o.outboxStore.GetDeadLetterSize(ctx)
}

// PersistQueuedJob durably writes a write-behind job dequeued by the
// external QueueAdapter and marks the corresponding outbox entry
// completed, mirroring the reconciler's own per-entry processing. This
// is the Handler a QueueAdapter implementation's worker pool calls.
func (o *Orchestrator) PersistQueuedJob(ctx context.Context, payload QueueJobPayload) error {
	if err := o.writeDurableDirect(ctx, payload.SessionId, payload.Patch, payload.Version, payload.FencingToken); err != nil {
		return err
	}
	if o.outboxStore == nil {
		return nil
	}
	return o.outboxStore.MarkCompleted(ctx, payload.SessionId, payload.Version)
}

// ReconcileOutbox drives one reconciler pass synchronously, for a
// "reconcile-once" CLI subcommand or a manual-drain admin endpoint.
func (o *Orchestrator) ReconcileOutbox(ctx context.Context) {
	if o.recon != nil {
		o.recon.Tick(ctx)
	}
}

func (o *Orchestrator) recordHit(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordHit(string(id))
	}
}
func (o *Orchestrator) recordMiss(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordMiss(string(id))
	}
}
func (o *Orchestrator) recordFallback(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordFallback(string(id))
	}
}
func (o *Orchestrator) recordQueuePublish(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordQueuePublish(string(id))
	}
}
func (o *Orchestrator) recordQueueFailure(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordQueueFailure(string(id))
	}
}
func (o *Orchestrator) recordDirectWrite(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordDirectWrite(string(id))
	}
}
func (o *Orchestrator) recordVersionConflict(id authstate.SessionId) {
	if o.metrics != nil {
		o.metrics.RecordVersionConflict(string(id))
	}
}
func (o *Orchestrator) recordCacheWarming(id authstate.SessionId, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordCacheWarming(string(id), outcome)
	}
}
func (o *Orchestrator) observeLatency(op string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveLatency(op, time.Since(start))
	}
}
