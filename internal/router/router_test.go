package router

import (
	"context"
	"errors"
	"testing"
	"time"

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
	tag   venue.Tag
	quote venue.Quote
	err   error
	delay time.Duration
}

func (f *fakeAdapter) Tag() venue.Tag { return f.tag }

func (f *fakeAdapter) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (venue.Quote, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return venue.Quote{}, ctx.Err()
		}
	}
	if f.err != nil {
		return venue.Quote{}, f.err
	}
	return f.quote, nil
}

func (f *fakeAdapter) Swap(ctx context.Context, params venue.SwapParams) (venue.SwapResult, error) {
	return venue.SwapResult{}, errors.New("not implemented")
}

func testLogger() *observability.Logger {
	return observability.NewLogger(testObservabilityConfig())
}

func testObservabilityConfig() config.ObservabilityConfig {
	return config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "text"}
}

func TestGetQuotesDropsFailingVenue(t *testing.T) {
	jupiter := &fakeAdapter{tag: venue.Jupiter, quote: venue.Quote{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromInt(10)}}
	raydium := &fakeAdapter{tag: venue.Raydium, err: errors.New("raydium unavailable")}

	r := New([]venue.Adapter{jupiter, raydium}, config.RouterConfig{QuoteTimeout: time.Second}, testLogger())

	quotes, err := r.GetQuotes(context.Background(), "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, venue.Jupiter, quotes[0].Venue)
}

func TestGetQuotesFailsWhenAllVenuesFail(t *testing.T) {
	jupiter := &fakeAdapter{tag: venue.Jupiter, err: errors.New("down")}
	raydium := &fakeAdapter{tag: venue.Raydium, err: errors.New("down")}

	r := New([]venue.Adapter{jupiter, raydium}, config.RouterConfig{QuoteTimeout: time.Second}, testLogger())

	_, err := r.GetQuotes(context.Background(), "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRouting, apperrors.Classify(err).Kind)
}

func TestGetQuotesDropsVenueExceedingTimeout(t *testing.T) {
	jupiter := &fakeAdapter{tag: venue.Jupiter, quote: venue.Quote{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromInt(10)}}
	slow := &fakeAdapter{tag: venue.Raydium, delay: 50 * time.Millisecond, quote: venue.Quote{Venue: venue.Raydium, EffectivePrice: decimal.NewFromInt(20)}}

	r := New([]venue.Adapter{jupiter, slow}, config.RouterConfig{QuoteTimeout: 5 * time.Millisecond}, testLogger())

	quotes, err := r.GetQuotes(context.Background(), "SOL", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, venue.Jupiter, quotes[0].Venue)
}

func TestSelectBestPicksStrictlyGreatestEffectivePrice(t *testing.T) {
	r := New(nil, config.RouterConfig{VenueOrder: []string{"jupiter", "raydium"}}, testLogger())

	quotes := []venue.Quote{
		{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromFloat(10.5)},
		{Venue: venue.Raydium, EffectivePrice: decimal.NewFromFloat(10.8)},
	}

	best, decision, err := r.SelectBest(context.Background(), quotes)
	require.NoError(t, err)
	assert.Equal(t, venue.Raydium, best.Venue)
	assert.Equal(t, "raydium", decision.SelectedVenue)
	assert.Equal(t, "10.5", decision.VenueAPrice)
	assert.Equal(t, "10.8", decision.VenueBPrice)
}

func TestSelectBestBreaksTiesByConfiguredOrder(t *testing.T) {
	r := New(nil, config.RouterConfig{VenueOrder: []string{"raydium", "jupiter"}}, testLogger())

	quotes := []venue.Quote{
		{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromFloat(10)},
		{Venue: venue.Raydium, EffectivePrice: decimal.NewFromFloat(10)},
	}

	best, decision, err := r.SelectBest(context.Background(), quotes)
	require.NoError(t, err)
	assert.Equal(t, venue.Raydium, best.Venue)
	assert.Equal(t, "raydium", decision.SelectedVenue)
	assert.Equal(t, "10", decision.VenueAPrice, "venueA is raydium per VenueOrder, not quote-array order")
	assert.Equal(t, "10", decision.VenueBPrice)
}

func TestSelectBestFailsOnEmptyInput(t *testing.T) {
	r := New(nil, config.RouterConfig{}, testLogger())
	_, _, err := r.SelectBest(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRouting, apperrors.Classify(err).Kind)
}
