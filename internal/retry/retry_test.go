package retry

import (
	"context"
	"testing"

	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.QueueConfig {
	return config.QueueConfig{BackoffBaseMs: 1, BackoffMultMs: 2000, BackoffMaxMs: 4, MaxRetries: 3}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	p := New(testConfig())
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrorUpToMaxAttempts(t *testing.T) {
	p := New(testConfig())
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		return apperrors.Routing("venue unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "maxRetries=3 bounds total attempts, not just retries")
	assert.Equal(t, apperrors.KindRouting, apperrors.Classify(err).Kind)
}

func TestDoStopsImmediatelyOnNonRetryableError(t *testing.T) {
	p := New(testConfig())
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		return apperrors.Validation("slippage out of range")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "validation errors must never be retried")
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := New(testConfig())
	calls := 0

	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return apperrors.System("transient storage blip")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		return apperrors.Routing("venue unavailable")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 3, "a cancelled context must not run more than the configured attempt budget")
}
