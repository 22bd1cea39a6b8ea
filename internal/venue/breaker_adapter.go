package venue

import (
	"context"
	"fmt"

	"github.com/dex-router/order-engine/internal/breaker"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// BreakerAdapter wraps an Adapter so every Quote and Swap call is gated
// by a per-venue circuit breaker, matching the component-scoped (not
// ambient-singleton) breaker placement described for this system: one
// breaker per venue tag, injected at construction rather than looked up
// through a global registry.
type BreakerAdapter struct {
	Adapter
	cb *breaker.Breaker
}

// WithBreaker returns adapter wrapped with cb. The wrapped adapter is
// otherwise a transparent passthrough.
func WithBreaker(adapter Adapter, cb *breaker.Breaker) Adapter {
	return &BreakerAdapter{Adapter: adapter, cb: cb}
}

// Quote fails fast with a routing-classified error while the breaker is
// open, without touching the underlying adapter.
func (a *BreakerAdapter) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (Quote, error) {
	if !a.cb.Allow() {
		return Quote{}, fmt.Errorf("%s: circuit breaker open", a.Adapter.Tag())
	}
	q, err := a.Adapter.Quote(ctx, inputMint, outputMint, amount)
	if err != nil {
		a.cb.RecordFailure()
		return Quote{}, err
	}
	a.cb.RecordSuccess()
	return q, nil
}

// Swap fails fast while the breaker is open, without dispatching to the venue.
func (a *BreakerAdapter) Swap(ctx context.Context, params SwapParams) (SwapResult, error) {
	if !a.cb.Allow() {
		return SwapResult{}, fmt.Errorf("%s: circuit breaker open", a.Adapter.Tag())
	}
	r, err := a.Adapter.Swap(ctx, params)
	if err != nil {
		a.cb.RecordFailure()
		return SwapResult{}, err
	}
	a.cb.RecordSuccess()
	return r, nil
}
