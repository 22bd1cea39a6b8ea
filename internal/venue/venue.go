// Package venue wraps DEX aggregator HTTP APIs behind a narrow Adapter
// interface, matching the teacher's convention of keeping a third-party
// surface (Jupiter, Raydium) behind a small package boundary.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Tag identifies a venue.
type Tag string

const (
	Jupiter Tag = "jupiter"
	Raydium Tag = "raydium"
)

// NativeSentinel is the native-token identifier accepted at the API
// boundary; venues only ever see the wrapped mint.
const NativeSentinel = "SOL"

// WrappedNativeMint is the SPL mint wrapping native SOL.
const WrappedNativeMint = "So11111111111111111111111111111111111111112"

// ErrSlippageExceeded is the typed signal an Adapter returns (wrapped
// with %w) when a swap would execute below the caller's minimum
// acceptable output. internal/executor checks for this before falling
// back to apperrors.Classify's substring heuristic.
var ErrSlippageExceeded = errors.New("slippage tolerance exceeded")

// Quote is one venue's answer to a getQuotes request.
type Quote struct {
	Venue            Tag
	RawPrice         decimal.Decimal // output per input, before fee
	Fee              decimal.Decimal // proportional, e.g. 0.0025
	EffectivePrice   decimal.Decimal // RawPrice * (1 - Fee)
	EstimatedOutput  decimal.Decimal // InputAmount * RawPrice
	PoolID           string
	RetrievedAt      time.Time
}

// SwapParams describes a swap dispatched to a single venue.
type SwapParams struct {
	Venue             Tag
	InputMint         solana.PublicKey
	OutputMint        solana.PublicKey
	InputAmount       decimal.Decimal
	MinAmountOut      decimal.Decimal
	PoolID            string
}

// SwapResult is the venue's answer to a swap dispatch.
type SwapResult struct {
	TransactionID string
	ExecutedPrice decimal.Decimal
	InputAmount   decimal.Decimal
	OutputAmount  decimal.Decimal
	FeeAmount     decimal.Decimal
	Timestamp     time.Time
}

// Adapter is implemented by every venue integration. Quote must not
// mutate shared state; Swap must be safe to call concurrently with
// Quote and with Swap calls for other orders.
type Adapter interface {
	Tag() Tag
	Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (Quote, error)
	Swap(ctx context.Context, params SwapParams) (SwapResult, error)
}

// ResolveMint rewrites the native-token sentinel to the wrapped mint,
// matching spec's wrapped-token rewrite rule. Any other identifier
// passes through unchanged.
func ResolveMint(identifier string) (solana.PublicKey, error) {
	if identifier == NativeSentinel {
		identifier = WrappedNativeMint
	}
	return solana.PublicKeyFromBase58(identifier)
}
