// Package pipeline drives the order state machine described in
// spec.md §4.5: pending -> routing -> building -> submitted ->
// confirmed/failed. It is registered as the asynq task handler for
// queue.TaskTypeOrder, collapsing what would otherwise be a second
// worker pool stacked on top of the durable queue's own concurrency
// control into a single dispatch layer — grounded on
// internal/trading/execution_engine.go's ExecutionPool for the
// per-order dispatch-and-measure shape, since the corpus has no
// existing order-lifecycle state machine to adapt directly.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/executor"
	"github.com/dex-router/order-engine/internal/order"
	"github.com/dex-router/order-engine/internal/queue"
	"github.com/dex-router/order-engine/internal/retry"
	"github.com/dex-router/order-engine/internal/router"
	"github.com/dex-router/order-engine/internal/venue"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/hibiken/asynq"
)

// StatusEmitter is the narrow slice of stream.Hub the worker needs,
// kept as an interface so package tests don't require a live
// WebSocket connection.
type StatusEmitter interface {
	Emit(orderID, status string, data map[string]interface{})
	DetachAll(orderID string)
}

// MetricsRecorder is the narrow slice of observability.MetricsProvider
// the worker needs.
type MetricsRecorder interface {
	RecordOrderStatus(ctx context.Context, status string, sincePending time.Duration)
}

// Worker applies one job's full lifecycle: it is the asynq handler for
// queue.TaskTypeOrder, so one Worker instance serves every concurrent
// task the queue substrate dispatches.
type Worker struct {
	store    order.Store
	cache    order.Cache
	router   *router.Router
	executor *executor.Executor
	hub      StatusEmitter
	audit    *observability.AuditLogger
	metrics  MetricsRecorder
	logger   *observability.Logger
	retry    retry.Policy
	cacheTTL time.Duration

	criticalBus chan<- *apperrors.Error
}

// SetCriticalBus wires the process-wide critical-error channel SYSTEM
// failures publish onto, drained by a logger in cmd/order-engine/main.go.
// Optional: a nil bus (the default) simply skips publication.
func (w *Worker) SetCriticalBus(bus chan<- *apperrors.Error) {
	w.criticalBus = bus
}

// New builds a Worker. cacheCfg supplies the default TTL applied on
// every cache refresh; queueCfg supplies the retry schedule shared by
// the quote and swap phases.
func New(store order.Store, cache order.Cache, r *router.Router, ex *executor.Executor, hub StatusEmitter, audit *observability.AuditLogger, metrics MetricsRecorder, logger *observability.Logger, queueCfg config.QueueConfig, cacheCfg config.CacheConfig) *Worker {
	ttl := time.Duration(cacheCfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Worker{
		store:    store,
		cache:    cache,
		router:   r,
		executor: ex,
		hub:      hub,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		retry:    retry.New(queueCfg),
		cacheTTL: ttl,
	}
}

// HandleOrderTask is registered against queue.TaskTypeOrder via
// asynq.ServeMux. It only returns an error for a malformed payload,
// something the substrate cannot have produced itself; every ordinary
// failure is resolved to a terminal order status internally and the
// handler returns nil, so the substrate never redelivers a task this
// worker already finished one way or another.
func (w *Worker) HandleOrderTask(ctx context.Context, task *asynq.Task) error {
	job, err := queue.ParseJob(task.Payload())
	if err != nil {
		return fmt.Errorf("parse job: %w", err)
	}
	return w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job queue.Job) error {
	pendingAt := time.Now()

	w.transition(ctx, job.OrderID, order.StatusRouting, order.Patch{}, nil)

	var chosen venue.Quote
	var decision router.RoutingDecision
	err := w.retry.Do(ctx, func() error {
		quotes, qerr := w.router.GetQuotes(ctx, job.TokenIn, job.TokenOut, job.Amount)
		if qerr != nil {
			return qerr
		}
		best, d, serr := w.router.SelectBest(ctx, quotes)
		if serr != nil {
			return serr
		}
		chosen = best
		decision = d
		return nil
	})
	if err != nil {
		return w.fail(ctx, job.OrderID, pendingAt, err, "no-venue: ")
	}

	venueTag := string(chosen.Venue)
	w.transition(ctx, job.OrderID, order.StatusBuilding, order.Patch{Venue: &venueTag}, map[string]interface{}{
		"winner":          venueTag,
		"effectivePrice":  chosen.EffectivePrice.String(),
		"routingDecision": decision,
	})

	var result venue.SwapResult
	err = w.retry.Do(ctx, func() error {
		r, serr := w.executor.ExecuteSwap(ctx, chosen, job.TokenIn, job.TokenOut, job.Amount, job.Slippage)
		if serr != nil {
			return serr
		}
		result = r
		return nil
	})
	if err != nil {
		return w.fail(ctx, job.OrderID, pendingAt, err, "")
	}

	txID := result.TransactionID
	w.transition(ctx, job.OrderID, order.StatusSubmitted, order.Patch{TxID: &txID}, map[string]interface{}{"txId": txID})

	execPrice, inAmount, outAmount := result.ExecutedPrice, result.InputAmount, result.OutputAmount
	w.transition(ctx, job.OrderID, order.StatusConfirmed, order.Patch{
		TxID:      &txID,
		ExecPrice: &execPrice,
		InAmount:  &inAmount,
		OutAmount: &outAmount,
	}, map[string]interface{}{
		"txId":          txID,
		"executedPrice": execPrice.String(),
		"outputAmount":  outAmount.String(),
	})

	w.finalize(ctx, job.OrderID, order.StatusConfirmed, pendingAt)
	return nil
}

// fail marks the order failed with the given error's classified
// message as the failure reason, prefixed by reasonPrefix when the
// caller wants to distinguish the routing-exhausted case from an
// execution-phase exhaustion. It always returns nil: the failure has
// already been durably recorded, so the task is done as far as the
// queue substrate is concerned.
func (w *Worker) fail(ctx context.Context, orderID string, pendingAt time.Time, err error, reasonPrefix string) error {
	classified := apperrors.Classify(err)
	reason := reasonPrefix + classified.Message

	if classified.Kind == apperrors.KindSystem {
		w.publishCritical(classified)
	}

	w.transition(ctx, orderID, order.StatusFailed, order.Patch{FailReason: &reason}, map[string]interface{}{"error": reason})
	w.finalize(ctx, orderID, order.StatusFailed, pendingAt)
	return nil
}

// publishCritical forwards a SYSTEM-kind failure onto the critical bus
// without blocking: a full or absent bus must never stall the pipeline.
func (w *Worker) publishCritical(err *apperrors.Error) {
	if w.criticalBus == nil {
		return
	}
	select {
	case w.criticalBus <- err:
	default:
	}
}

// transition persists the new status, refreshes the cache entry best
// effort, emits on the status stream, and writes an audit record. A
// store-write failure is logged but does not abort the pipeline: the
// worker is the sole writer for this order, so the in-memory job state
// remains authoritative for the remainder of this attempt even if the
// persisted copy briefly lags.
func (w *Worker) transition(ctx context.Context, orderID string, status order.Status, patch order.Patch, data map[string]interface{}) {
	if err := w.store.UpdateStatus(ctx, orderID, status, patch); err != nil {
		w.logger.Error(ctx, "failed to persist order status", err, map[string]interface{}{
			"order_id": orderID,
			"status":   string(status),
		})
	}

	if updated, err := w.store.FindByID(ctx, orderID); err == nil {
		if cerr := w.cache.Set(ctx, updated, w.cacheTTL); cerr != nil {
			w.logger.Warn(ctx, "failed to refresh order cache", map[string]interface{}{
				"order_id": orderID,
				"error":    cerr.Error(),
			})
		}
	}

	w.hub.Emit(orderID, string(status), data)
	w.audit.LogOrderTransition(ctx, orderID, "", string(status), data)
}

// finalize runs the terminal-status cleanup §4.5 specifies: delete the
// cache entry (status is now immutable, so there is nothing left worth
// caching), detach every stream subscriber, and record the end-to-end
// pipeline latency.
func (w *Worker) finalize(ctx context.Context, orderID string, status order.Status, pendingAt time.Time) {
	if err := w.cache.Delete(ctx, orderID); err != nil {
		w.logger.Warn(ctx, "failed to delete order cache entry on terminal status", map[string]interface{}{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
	w.hub.DetachAll(orderID)
	w.metrics.RecordOrderStatus(ctx, string(status), time.Since(pendingAt))
}
