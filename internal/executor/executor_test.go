package executor

import (
	"context"
	"testing"

	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/venue"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	tag        venue.Tag
	result     venue.SwapResult
	err        error
	lastMinOut decimal.Decimal
}

func (f *fakeAdapter) Tag() venue.Tag { return f.tag }

func (f *fakeAdapter) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (venue.Quote, error) {
	return venue.Quote{}, nil
}

func (f *fakeAdapter) Swap(ctx context.Context, params venue.SwapParams) (venue.SwapResult, error) {
	f.lastMinOut = params.MinAmountOut
	if f.err != nil {
		return venue.SwapResult{}, f.err
	}
	return f.result, nil
}

type noopMetrics struct{ calls int }

func (n *noopMetrics) RecordRealizedSlippage(ctx context.Context, venue string, ratio float64) {
	n.calls++
}

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "text"})
}

func TestExecuteSwapFloorsMinAmountOut(t *testing.T) {
	adapter := &fakeAdapter{tag: venue.Jupiter, result: venue.SwapResult{OutputAmount: decimal.NewFromInt(97)}}
	ex := New([]venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05}, testLogger(), &noopMetrics{})

	quote := venue.Quote{Venue: venue.Jupiter, EstimatedOutput: decimal.NewFromInt(100)}
	_, err := ex.ExecuteSwap(context.Background(), quote, "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(10), decimal.NewFromFloat(0.025))

	require.NoError(t, err)
	// 100 * (1 - 0.025) = 97.5, floored to 97
	assert.True(t, adapter.lastMinOut.Equal(decimal.NewFromInt(97)))
}

func TestExecuteSwapRejectsSlippageAboveMax(t *testing.T) {
	adapter := &fakeAdapter{tag: venue.Jupiter}
	ex := New([]venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05}, testLogger(), &noopMetrics{})

	quote := venue.Quote{Venue: venue.Jupiter, EstimatedOutput: decimal.NewFromInt(100)}
	_, err := ex.ExecuteSwap(context.Background(), quote, "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(10), decimal.NewFromFloat(0.5))

	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.Classify(err).Kind)
}

func TestExecuteSwapTranslatesSlippageExceeded(t *testing.T) {
	adapter := &fakeAdapter{tag: venue.Jupiter, err: venue.ErrSlippageExceeded}
	ex := New([]venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05}, testLogger(), &noopMetrics{})

	quote := venue.Quote{Venue: venue.Jupiter, EstimatedOutput: decimal.NewFromInt(100)}
	_, err := ex.ExecuteSwap(context.Background(), quote, "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(10), decimal.NewFromFloat(0.01))

	require.Error(t, err)
	classified := apperrors.Classify(err)
	assert.Equal(t, apperrors.KindExecution, classified.Kind)
	assert.Equal(t, "jupiter", classified.Context["venue"])
}

func TestExecuteSwapFailsWhenVenueNotRegistered(t *testing.T) {
	ex := New(nil, config.ExecutorConfig{MaxSlippage: 0.05}, testLogger(), &noopMetrics{})

	quote := venue.Quote{Venue: venue.Raydium, EstimatedOutput: decimal.NewFromInt(100)}
	_, err := ex.ExecuteSwap(context.Background(), quote, "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(10), decimal.NewFromFloat(0.01))

	require.Error(t, err)
	assert.Equal(t, apperrors.KindSystem, apperrors.Classify(err).Kind)
}

func TestExecuteSwapRecordsRealizedSlippage(t *testing.T) {
	adapter := &fakeAdapter{tag: venue.Jupiter, result: venue.SwapResult{OutputAmount: decimal.NewFromInt(95)}}
	metrics := &noopMetrics{}
	ex := New([]venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05}, testLogger(), metrics)

	quote := venue.Quote{Venue: venue.Jupiter, EstimatedOutput: decimal.NewFromInt(100)}
	_, err := ex.ExecuteSwap(context.Background(), quote, "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(10), decimal.NewFromFloat(0.05))

	require.NoError(t, err)
	assert.Equal(t, 1, metrics.calls)
}
