package venue

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMintRewritesNativeSentinel(t *testing.T) {
	pk, err := ResolveMint(NativeSentinel)
	require.NoError(t, err)
	assert.Equal(t, WrappedNativeMint, pk.String())
}

func TestResolveMintPassesThroughMint(t *testing.T) {
	pk, err := ResolveMint(WrappedNativeMint)
	require.NoError(t, err)
	assert.Equal(t, WrappedNativeMint, pk.String())
}

func TestRaydiumQuoteConstantProduct(t *testing.T) {
	adapter := NewRaydiumAdapter("")
	wsol, _ := ResolveMint(NativeSentinel)
	usdc, _ := ResolveMint("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	quote, err := adapter.Quote(context.Background(), wsol, usdc, decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.True(t, quote.EstimatedOutput.GreaterThan(decimal.Zero))
	assert.True(t, quote.EffectivePrice.LessThan(quote.RawPrice), "fee should reduce effective price below raw price")
}

func TestRaydiumSwapRejectsBelowMinimum(t *testing.T) {
	adapter := NewRaydiumAdapter("")
	wsol, _ := ResolveMint(NativeSentinel)
	usdc, _ := ResolveMint("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	_, err := adapter.Swap(context.Background(), SwapParams{
		Venue:        Raydium,
		InputMint:    wsol,
		OutputMint:   usdc,
		InputAmount:  decimal.NewFromInt(10),
		MinAmountOut: decimal.NewFromInt(1_000_000), // unreachable given seeded pool reserves
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlippageExceeded))
}

func TestRaydiumUnknownPairFails(t *testing.T) {
	adapter := NewRaydiumAdapter("")
	unknown := mustKey("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	other := mustKey("So11111111111111111111111111111111111111112")

	_, err := adapter.Quote(context.Background(), unknown, other, decimal.NewFromInt(1))
	require.Error(t, err)
}

func mustKey(s string) solana.PublicKey {
	key, err := ResolveMint(s)
	if err != nil {
		panic(err)
	}
	return key
}
