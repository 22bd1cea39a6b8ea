// Package queue wraps hibiken/asynq behind the narrow durable-FIFO
// contract spec.md §4.6 describes, generalized from the teacher's
// in-memory ExecutionEngine.orderQueue channel
// (internal/trading/execution_engine.go) to a Redis-backed,
// crash-durable substrate with idempotent enqueue and at-least-once
// delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dex-router/order-engine/internal/config"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

// TaskTypeOrder is the asynq task type for every submitted order.
const TaskTypeOrder = "order:process"

// Job is the payload enqueued for one order, matching spec.md §3's Job tuple.
type Job struct {
	OrderID  string          `json:"order_id"`
	TokenIn  string          `json:"token_in"`
	TokenOut string          `json:"token_out"`
	Amount   decimal.Decimal `json:"amount"`
	Slippage decimal.Decimal `json:"slippage"`
}

// Metrics is the point-in-time snapshot of one queue's job counts.
type Metrics struct {
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
	Completed int
	Paused    bool
}

// Queue is a durable FIFO keyed by order identifier. MaxRetry is
// pinned to 0 for every enqueued task: internal/pipeline owns the
// full retry ladder described in spec.md §4.5, so the substrate acts
// as a single-delivery dispatcher rather than stacking its own
// redelivery on top (see the "three-level retry ladder" note this
// avoids).
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queueName string
}

// New builds a Queue over the given Redis connection options.
func New(redisOpt asynq.RedisConnOpt, cfg config.QueueConfig) *Queue {
	name := cfg.CriticalQueue
	if name == "" {
		name = "default"
	}
	return &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queueName: name,
	}
}

// Enqueue inserts job keyed by its order identifier. Re-enqueueing an
// identifier already present is a no-op, matching the idempotent
// insert spec.md §4.6 requires.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	task := asynq.NewTask(TaskTypeOrder, payload)
	_, err = q.client.Enqueue(task,
		asynq.TaskID(job.OrderID),
		asynq.Queue(q.queueName),
		asynq.MaxRetry(0),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue job %s: %w", job.OrderID, err)
	}
	return nil
}

// ParseJob decodes a task payload back into a Job. Called from the
// pipeline's task handler.
func ParseJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

// AttemptCount returns the 1-indexed attempt number for the task
// currently being processed, derived from asynq's 0-indexed retry count.
func AttemptCount(ctx context.Context) int {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1
	}
	return n + 1
}

// Pause stops the queue from dispatching new tasks to workers.
func (q *Queue) Pause() error {
	return q.inspector.PauseQueue(q.queueName)
}

// Resume re-enables dispatch after Pause.
func (q *Queue) Resume() error {
	return q.inspector.UnpauseQueue(q.queueName)
}

// Drain removes every not-yet-started job, leaving active jobs to finish.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	n, err := q.inspector.DeleteAllPendingTasks(q.queueName)
	if err != nil {
		return 0, fmt.Errorf("drain queue: %w", err)
	}
	return n, nil
}

// Stats reports waiting/active/completed/failed/delayed counts.
func (q *Queue) Stats() (Metrics, error) {
	info, err := q.inspector.GetQueueInfo(q.queueName)
	if err != nil {
		return Metrics{}, fmt.Errorf("queue stats: %w", err)
	}
	return Metrics{
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Completed: info.Completed,
		Paused:    info.Paused,
	}, nil
}

// Close releases the underlying client and inspector connections.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// QueueName returns the asynq queue this Queue dispatches into, for
// server configuration.
func (q *Queue) QueueName() string {
	return q.queueName
}
