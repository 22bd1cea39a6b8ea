package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q := New(asynq.RedisClientOpt{Addr: mr.Addr()}, config.QueueConfig{CriticalQueue: "orders"})
	t.Cleanup(func() { q.Close() })
	return q
}

func sampleJob(orderID string) Job {
	return Job{
		OrderID:  orderID,
		TokenIn:  "SOL",
		TokenOut: "USDC",
		Amount:   decimal.NewFromInt(10),
		Slippage: decimal.NewFromFloat(0.005),
	}
}

func TestEnqueueIsIdempotentByOrderID(t *testing.T) {
	q := newTestQueue(t)
	job := sampleJob("order-1")

	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Enqueue(context.Background(), job), "re-enqueuing the same order id must be a no-op, not an error")

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestDrainRemovesPendingJobs(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(context.Background(), sampleJob("order-1")))
	require.NoError(t, q.Enqueue(context.Background(), sampleJob("order-2")))

	n, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Pause())

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.True(t, stats.Paused)

	require.NoError(t, q.Resume())
	stats, err = q.Stats()
	require.NoError(t, err)
	assert.False(t, stats.Paused)
}

func TestParseJobRoundTrip(t *testing.T) {
	job := sampleJob("order-1")
	payload, err := jsonMarshalJob(job)
	require.NoError(t, err)

	parsed, err := ParseJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job.OrderID, parsed.OrderID)
	assert.True(t, job.Amount.Equal(parsed.Amount))
}

func TestAttemptCountDefaultsToOneOutsideTaskContext(t *testing.T) {
	assert.Equal(t, 1, AttemptCount(context.Background()))
}

func jsonMarshalJob(j Job) ([]byte, error) {
	return json.Marshal(j)
}
