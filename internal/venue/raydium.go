package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// pool is a constant-product liquidity pool, mirroring the fields the
// teacher's RaydiumPool carries for swap-output computation.
type pool struct {
	ID           string
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	Fee          decimal.Decimal
}

// RaydiumAdapter computes swap output via the constant-product (x*y=k)
// formula against a small registry of known pools. A production
// adapter would discover pools from on-chain AMM accounts; pool
// discovery and liquidity fetching are out of scope here, so the
// registry is seeded with representative reserves at construction.
type RaydiumAdapter struct {
	baseURL string
	mu      sync.RWMutex
	pools   []pool
}

// NewRaydiumAdapter creates a Raydium venue adapter seeded with a
// representative pool for every pair it will be asked to quote.
func NewRaydiumAdapter(baseURL string) *RaydiumAdapter {
	return &RaydiumAdapter{
		baseURL: baseURL,
		pools:   defaultPools(),
	}
}

func defaultPools() []pool {
	wsol := solana.MustPublicKeyFromBase58(WrappedNativeMint)
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	return []pool{
		{
			ID:           "raydium-sol-usdc",
			BaseMint:     wsol,
			QuoteMint:    usdc,
			BaseReserve:  decimal.NewFromInt(50_000),
			QuoteReserve: decimal.NewFromInt(7_500_000),
			Fee:          decimal.NewFromFloat(0.0025),
		},
	}
}

func (r *RaydiumAdapter) Tag() Tag { return Raydium }

// RegisterPool adds or replaces a pool, keyed by its token pair.
// Exposed for tests and for seeding additional pairs without a network round trip.
func (r *RaydiumAdapter) RegisterPool(id string, baseMint, quoteMint solana.PublicKey, baseReserve, quoteReserve, fee decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := pool{
		ID:           id,
		BaseMint:     baseMint,
		QuoteMint:    quoteMint,
		BaseReserve:  baseReserve,
		QuoteReserve: quoteReserve,
		Fee:          fee,
	}
	for i, existing := range r.pools {
		if (existing.BaseMint.Equals(baseMint) && existing.QuoteMint.Equals(quoteMint)) ||
			(existing.BaseMint.Equals(quoteMint) && existing.QuoteMint.Equals(baseMint)) {
			r.pools[i] = p
			return
		}
	}
	r.pools = append(r.pools, p)
}

func (r *RaydiumAdapter) findPool(inputMint, outputMint solana.PublicKey) (pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		if (p.BaseMint.Equals(inputMint) && p.QuoteMint.Equals(outputMint)) ||
			(p.BaseMint.Equals(outputMint) && p.QuoteMint.Equals(inputMint)) {
			return p, nil
		}
	}
	return pool{}, fmt.Errorf("no pool found for token pair")
}

// swapOutput applies the constant-product formula: Δy = (y · Δx) / (x + Δx).
func swapOutput(inputAmount decimal.Decimal, p pool, inputMint solana.PublicKey) (output, fee decimal.Decimal) {
	var inputReserve, outputReserve decimal.Decimal
	if p.BaseMint.Equals(inputMint) {
		inputReserve, outputReserve = p.BaseReserve, p.QuoteReserve
	} else {
		inputReserve, outputReserve = p.QuoteReserve, p.BaseReserve
	}

	fee = inputAmount.Mul(p.Fee)
	inputAfterFee := inputAmount.Sub(fee)

	numerator := outputReserve.Mul(inputAfterFee)
	denominator := inputReserve.Add(inputAfterFee)
	if denominator.IsZero() {
		return decimal.Zero, fee
	}
	output = numerator.Div(denominator)
	return output, fee
}

func (r *RaydiumAdapter) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (Quote, error) {
	p, err := r.findPool(inputMint, outputMint)
	if err != nil {
		return Quote{}, fmt.Errorf("raydium quote: %w", err)
	}

	outputAmount, fee := swapOutput(amount, p, inputMint)

	rawPrice := decimal.Zero
	if !amount.IsZero() {
		rawPrice = outputAmount.Add(fee).Div(amount)
	}
	feeRatio := decimal.Zero
	if !amount.IsZero() {
		feeRatio = fee.Div(amount)
	}
	effectivePrice := rawPrice.Mul(decimal.NewFromInt(1).Sub(feeRatio))

	return Quote{
		Venue:           Raydium,
		RawPrice:        rawPrice,
		Fee:             feeRatio,
		EffectivePrice:  effectivePrice,
		EstimatedOutput: outputAmount,
		PoolID:          p.ID,
		RetrievedAt:     time.Now().UTC(),
	}, nil
}

func (r *RaydiumAdapter) Swap(ctx context.Context, params SwapParams) (SwapResult, error) {
	p, err := r.findPool(params.InputMint, params.OutputMint)
	if err != nil {
		return SwapResult{}, fmt.Errorf("raydium swap: %w", err)
	}

	outputAmount, fee := swapOutput(params.InputAmount, p, params.InputMint)

	if outputAmount.LessThan(params.MinAmountOut) {
		return SwapResult{}, fmt.Errorf("raydium swap: %w: realized %s below minimum %s",
			ErrSlippageExceeded, outputAmount.String(), params.MinAmountOut.String())
	}

	executedPrice := decimal.Zero
	if !params.InputAmount.IsZero() {
		executedPrice = outputAmount.Div(params.InputAmount)
	}

	return SwapResult{
		TransactionID: "ray-" + uuid.NewString(),
		ExecutedPrice: executedPrice,
		InputAmount:   params.InputAmount,
		OutputAmount:  outputAmount,
		FeeAmount:     fee,
		Timestamp:     time.Now().UTC(),
	}, nil
}
