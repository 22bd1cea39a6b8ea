// Package executor computes the minimum acceptable output for a swap
// and dispatches it to the venue adapter matching the router's chosen
// quote, generalized from the teacher's ExecutionPool.executeOrder
// dispatch-and-measure shape (internal/trading/execution_engine.go)
// down to a single-algorithm (market order) execution path — TWAP,
// VWAP, Iceberg, and Sniper slicing are out of scope here.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/venue"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/shopspring/decimal"
)

// MetricsRecorder is the narrow slice of pkg/observability.MetricsProvider
// the executor needs, kept as an interface so package tests don't
// require a live OTel meter.
type MetricsRecorder interface {
	RecordRealizedSlippage(ctx context.Context, venue string, ratio float64)
}

// Executor dispatches swaps to venue adapters under a slippage bound.
type Executor struct {
	adapters map[venue.Tag]venue.Adapter
	cfg      config.ExecutorConfig
	logger   *observability.Logger
	metrics  MetricsRecorder
}

// New builds an Executor keyed by each adapter's own Tag.
func New(adapters []venue.Adapter, cfg config.ExecutorConfig, logger *observability.Logger, metrics MetricsRecorder) *Executor {
	byTag := make(map[venue.Tag]venue.Adapter, len(adapters))
	for _, a := range adapters {
		byTag[a.Tag()] = a
	}
	return &Executor{adapters: byTag, cfg: cfg, logger: logger, metrics: metrics}
}

// ExecuteSwap rejects slippage outside [0, MaxSlippage] with a
// VALIDATION error, floors the minimum acceptable output, and
// dispatches to the venue adapter matching quote.Venue.
func (e *Executor) ExecuteSwap(ctx context.Context, quote venue.Quote, tokenIn, tokenOut string, amount, slippage decimal.Decimal) (venue.SwapResult, error) {
	maxSlippage := decimal.NewFromFloat(e.cfg.MaxSlippage)
	if slippage.LessThan(decimal.Zero) || slippage.GreaterThan(maxSlippage) {
		return venue.SwapResult{}, apperrors.Validation("slippage %s outside [0, %s]", slippage.String(), maxSlippage.String())
	}

	minAmountOut := quote.EstimatedOutput.Mul(decimal.NewFromInt(1).Sub(slippage)).Floor()

	adapter, ok := e.adapters[quote.Venue]
	if !ok {
		return venue.SwapResult{}, apperrors.System("no adapter registered for venue %s", quote.Venue)
	}

	inputMint, err := venue.ResolveMint(tokenIn)
	if err != nil {
		return venue.SwapResult{}, apperrors.Validation("invalid input token %q: %v", tokenIn, err)
	}
	outputMint, err := venue.ResolveMint(tokenOut)
	if err != nil {
		return venue.SwapResult{}, apperrors.Validation("invalid output token %q: %v", tokenOut, err)
	}

	result, err := adapter.Swap(ctx, venue.SwapParams{
		Venue:        quote.Venue,
		InputMint:    inputMint,
		OutputMint:   outputMint,
		InputAmount:  amount,
		MinAmountOut: minAmountOut,
		PoolID:       quote.PoolID,
	})
	if err != nil {
		if errors.Is(err, venue.ErrSlippageExceeded) {
			return venue.SwapResult{}, apperrors.Execution("%s swap rejected: %v", quote.Venue, err).WithContext("venue", string(quote.Venue))
		}
		classified := apperrors.Classify(err)
		return venue.SwapResult{}, classified.WithContext("venue", string(quote.Venue))
	}

	if !quote.EstimatedOutput.IsZero() {
		ratio, _ := quote.EstimatedOutput.Sub(result.OutputAmount).Div(quote.EstimatedOutput).Float64()
		e.metrics.RecordRealizedSlippage(ctx, string(quote.Venue), ratio)
		e.logger.Info(ctx, "swap executed", map[string]interface{}{
			"venue":             string(quote.Venue),
			"estimated_output":  quote.EstimatedOutput.String(),
			"realized_output":   result.OutputAmount.String(),
			"realized_slippage": ratio,
			"timestamp":         time.Now().UTC(),
		})
	}

	return result, nil
}
