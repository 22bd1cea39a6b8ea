// Package router fans a quote request out to every venue adapter in
// parallel and selects the one offering the best effective price,
// generalized from the teacher's SmartOrderRouter venue selection
// (internal/trading/smart_order_router.go) down to the two-venue,
// quote-only contract this system needs: no order splitting, no
// routing rules, no venue aggregation.
package router

import (
	"context"
	"sort"
	"time"

	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/venue"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Router fans quote requests out to every registered venue adapter.
type Router struct {
	adapters []venue.Adapter
	cfg      config.RouterConfig
	logger   *observability.Logger
}

// New builds a Router over the given adapters. Adapter order has no
// effect on quoting; cfg.VenueOrder governs only the SelectBest tie-break.
func New(adapters []venue.Adapter, cfg config.RouterConfig, logger *observability.Logger) *Router {
	return &Router{adapters: adapters, cfg: cfg, logger: logger}
}

type quoteOutcome struct {
	venue venue.Tag
	quote venue.Quote
	err   error
}

// GetQuotes rewrites the native-token sentinel to its wrapped mint,
// then queries every venue adapter concurrently, each bounded by
// cfg.QuoteTimeout. A venue that errors or times out is dropped with a
// warning rather than failing the whole call; GetQuotes fails with a
// ROUTING error only when every venue fails.
func (r *Router) GetQuotes(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) ([]venue.Quote, error) {
	inputMint, err := venue.ResolveMint(tokenIn)
	if err != nil {
		return nil, apperrors.Validation("invalid input token %q: %v", tokenIn, err)
	}
	outputMint, err := venue.ResolveMint(tokenOut)
	if err != nil {
		return nil, apperrors.Validation("invalid output token %q: %v", tokenOut, err)
	}

	// Plain errgroup.Group, not WithContext: a cancelled derived context
	// would abort every in-flight venue call the moment one fails, which
	// defeats the partial-failure tolerance this method exists for. Each
	// goroutine records its own outcome instead of returning it, so
	// g.Wait()'s aggregate error is discarded by design.
	results := make([]quoteOutcome, len(r.adapters))
	var g errgroup.Group
	for i, a := range r.adapters {
		i, a := i, a
		g.Go(func() error {
			results[i] = r.quoteOne(ctx, a, inputMint, outputMint, amount)
			return nil
		})
	}
	_ = g.Wait()

	var quotes []venue.Quote
	for _, res := range results {
		if res.err != nil {
			r.logger.Warn(ctx, "venue quote failed", map[string]interface{}{
				"venue": string(res.venue),
				"error": res.err.Error(),
			})
			continue
		}
		quotes = append(quotes, res.quote)
	}

	if len(quotes) == 0 {
		return nil, apperrors.Routing("no venue returned a quote for %s -> %s", tokenIn, tokenOut)
	}
	return quotes, nil
}

func (r *Router) quoteOne(ctx context.Context, a venue.Adapter, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) quoteOutcome {
	timeout := r.cfg.QuoteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q, err := a.Quote(qctx, inputMint, outputMint, amount)
	return quoteOutcome{venue: a.Tag(), quote: q, err: err}
}

// RoutingDecision is the two-venue price comparison emitted alongside
// the winning venue on the `building` status, matching spec.md §6's
// data.routingDecision = {selectedVenue, venueAPrice, venueBPrice}.
type RoutingDecision struct {
	SelectedVenue string `json:"selectedVenue"`
	VenueAPrice   string `json:"venueAPrice,omitempty"`
	VenueBPrice   string `json:"venueBPrice,omitempty"`
}

// SelectBest returns the quote with the strictly greatest effective
// price, plus the full two-venue comparison behind that choice. Ties
// are broken by cfg.VenueOrder: the venue appearing earliest in that
// list wins.
func (r *Router) SelectBest(ctx context.Context, quotes []venue.Quote) (venue.Quote, RoutingDecision, error) {
	if len(quotes) == 0 {
		return venue.Quote{}, RoutingDecision{}, apperrors.Routing("selectBest called with no quotes")
	}

	ranked := make([]venue.Quote, len(quotes))
	copy(ranked, quotes)
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].EffectivePrice.Equal(ranked[j].EffectivePrice) {
			return ranked[i].EffectivePrice.GreaterThan(ranked[j].EffectivePrice)
		}
		return r.venueRank(ranked[i].Venue) < r.venueRank(ranked[j].Venue)
	})

	winner := ranked[0]

	fields := map[string]interface{}{"winner": string(winner.Venue)}
	for _, q := range quotes {
		fields[string(q.Venue)+"_raw_price"] = q.RawPrice.String()
		fields[string(q.Venue)+"_fee"] = q.Fee.String()
		fields[string(q.Venue)+"_effective_price"] = q.EffectivePrice.String()
		fields[string(q.Venue)+"_estimated_output"] = q.EstimatedOutput.String()
	}
	if len(ranked) > 1 {
		fields["margin"] = winner.EffectivePrice.Sub(ranked[1].EffectivePrice).String()
	}
	r.logger.Info(ctx, "router comparison", fields)

	return winner, r.buildRoutingDecision(quotes, winner), nil
}

// buildRoutingDecision orders the comparison by cfg.VenueOrder (falling
// back to quote order when unset) so venueAPrice/venueBPrice stay
// stable across calls regardless of which adapter answered first. With
// only one quote available, venueBPrice is simply omitted.
func (r *Router) buildRoutingDecision(quotes []venue.Quote, winner venue.Quote) RoutingDecision {
	ordered := make([]venue.Quote, len(quotes))
	copy(ordered, quotes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return r.venueRank(ordered[i].Venue) < r.venueRank(ordered[j].Venue)
	})

	d := RoutingDecision{SelectedVenue: string(winner.Venue)}
	if len(ordered) > 0 {
		d.VenueAPrice = ordered[0].EffectivePrice.String()
	}
	if len(ordered) > 1 {
		d.VenueBPrice = ordered[1].EffectivePrice.String()
	}
	return d
}

func (r *Router) venueRank(v venue.Tag) int {
	for i, name := range r.cfg.VenueOrder {
		if name == string(v) {
			return i
		}
	}
	return len(r.cfg.VenueOrder)
}
