package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dex-router/order-engine/internal/config"
	"github.com/dex-router/order-engine/internal/executor"
	"github.com/dex-router/order-engine/internal/order"
	"github.com/dex-router/order-engine/internal/queue"
	"github.com/dex-router/order-engine/internal/router"
	"github.com/dex-router/order-engine/internal/venue"
	"github.com/dex-router/order-engine/pkg/observability"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVenueAdapter struct {
	tag       venue.Tag
	quote     venue.Quote
	quoteErr  error
	result    venue.SwapResult
	swapErr   error
	swapCalls int
}

func (f *fakeVenueAdapter) Tag() venue.Tag { return f.tag }

func (f *fakeVenueAdapter) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (venue.Quote, error) {
	return f.quote, f.quoteErr
}

func (f *fakeVenueAdapter) Swap(ctx context.Context, params venue.SwapParams) (venue.SwapResult, error) {
	f.swapCalls++
	return f.result, f.swapErr
}

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func newFakeStore(id string) *fakeStore {
	return &fakeStore{orders: map[string]*order.Order{id: {ID: id, Status: order.StatusPending}}}
}

func (s *fakeStore) Create(ctx context.Context, f order.NewFields) (*order.Order, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) UpdateStatus(ctx context.Context, orderID string, newStatus order.Status, patch order.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = newStatus
	if patch.Venue != nil {
		o.Venue = patch.Venue
	}
	if patch.TxID != nil {
		o.TxID = patch.TxID
	}
	if patch.ExecPrice != nil {
		o.ExecPrice = patch.ExecPrice
	}
	if patch.InAmount != nil {
		o.InAmount = patch.InAmount
	}
	if patch.OutAmount != nil {
		o.OutAmount = patch.OutAmount
	}
	if patch.FailReason != nil {
		o.FailReason = patch.FailReason
	}
	return nil
}

func (s *fakeStore) FindByID(ctx context.Context, orderID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) FindRecent(ctx context.Context, limit int) ([]*order.Order, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) GetStatusHistory(ctx context.Context, orderID string) ([]order.StatusHistoryEntry, error) {
	return nil, errors.New("not implemented")
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*order.Order
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*order.Order)}
}

func (c *fakeCache) Set(ctx context.Context, o *order.Order, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[o.ID] = o
	return nil
}

func (c *fakeCache) Get(ctx context.Context, orderID string) (*order.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[orderID]
	if !ok {
		return nil, order.ErrCacheMiss
	}
	return o, nil
}

func (c *fakeCache) Delete(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
	c.deletes = append(c.deletes, orderID)
	return nil
}

func (c *fakeCache) Exists(ctx context.Context, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[orderID]
	return ok, nil
}

func (c *fakeCache) RefreshTTL(ctx context.Context, orderID string, ttl time.Duration) error {
	return nil
}

type emittedMessage struct {
	orderID string
	status  string
	data    map[string]interface{}
}

type fakeHub struct {
	mu          sync.Mutex
	emitted     []emittedMessage
	detachedAll []string
}

func (h *fakeHub) Emit(orderID, status string, data map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitted = append(h.emitted, emittedMessage{orderID, status, data})
}

func (h *fakeHub) DetachAll(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachedAll = append(h.detachedAll, orderID)
}

func (h *fakeHub) statuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.emitted))
	for i, m := range h.emitted {
		out[i] = m.status
	}
	return out
}

type fakeMetrics struct {
	mu       sync.Mutex
	recorded []string
}

func (m *fakeMetrics) RecordOrderStatus(ctx context.Context, status string, sincePending time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, status)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "text"})
}

func testQueueConfig() config.QueueConfig {
	// Small, fast constants: these tests exercise retry exhaustion and
	// must not take seconds to run.
	return config.QueueConfig{BackoffBaseMs: 1, BackoffMultMs: 2000, BackoffMaxMs: 2, MaxRetries: 2}
}

func newTestWorker(orderID string, adapters []venue.Adapter, execCfg config.ExecutorConfig) (*Worker, *fakeStore, *fakeCache, *fakeHub, *fakeMetrics) {
	store := newFakeStore(orderID)
	cache := newFakeCache()
	hub := &fakeHub{}
	metrics := &fakeMetrics{}
	logger := testLogger()
	audit := observability.NewAuditLogger(logger)

	r := router.New(adapters, config.RouterConfig{QuoteTimeout: time.Second, VenueOrder: []string{"jupiter", "raydium"}}, logger)
	ex := executor.New(adapters, execCfg, logger, &noopSlippageMetrics{})

	w := New(store, cache, r, ex, hub, audit, metrics, logger, testQueueConfig(), config.CacheConfig{TTLSeconds: 60})
	return w, store, cache, hub, metrics
}

type noopSlippageMetrics struct{}

func (noopSlippageMetrics) RecordRealizedSlippage(ctx context.Context, venue string, ratio float64) {}

func TestProcessConfirmsOrderOnSuccessfulRouteAndSwap(t *testing.T) {
	adapter := &fakeVenueAdapter{
		tag:    venue.Jupiter,
		quote:  venue.Quote{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromInt(10), EstimatedOutput: decimal.NewFromInt(100)},
		result: venue.SwapResult{TransactionID: "tx-1", ExecutedPrice: decimal.NewFromInt(10), OutputAmount: decimal.NewFromInt(98)},
	}
	w, store, cache, hub, metrics := newTestWorker("order-1", []venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05})

	job := queue.Job{OrderID: "order-1", TokenIn: "SOL", TokenOut: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Amount: decimal.NewFromInt(10), Slippage: decimal.NewFromFloat(0.01)}
	require.NoError(t, w.process(context.Background(), job))

	final, err := store.FindByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, final.Status)
	require.NotNil(t, final.TxID)
	assert.Equal(t, "tx-1", *final.TxID)
	require.NotNil(t, final.ExecPrice)

	assert.Equal(t, []string{"routing", "building", "submitted", "confirmed"}, hub.statuses())
	assert.Contains(t, hub.detachedAll, "order-1")
	assert.Contains(t, metrics.recorded, "confirmed")
	assert.Contains(t, cache.deletes, "order-1", "terminal status must delete the cache entry")
}

func TestProcessFailsWhenAllVenuesExhaustRetries(t *testing.T) {
	adapter := &fakeVenueAdapter{tag: venue.Jupiter, quoteErr: errors.New("jupiter unavailable")}
	w, store, _, hub, metrics := newTestWorker("order-2", []venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05})

	job := queue.Job{OrderID: "order-2", TokenIn: "SOL", TokenOut: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Amount: decimal.NewFromInt(10), Slippage: decimal.NewFromFloat(0.01)}
	require.NoError(t, w.process(context.Background(), job))

	final, err := store.FindByID(context.Background(), "order-2")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, final.Status)
	require.NotNil(t, final.FailReason)
	assert.True(t, strings.HasPrefix(*final.FailReason, "no-venue: "))

	assert.Equal(t, []string{"routing", "failed"}, hub.statuses())
	assert.Contains(t, metrics.recorded, "failed")
}

func TestProcessFailsImmediatelyWhenRequestedSlippageExceedsConfiguredMax(t *testing.T) {
	adapter := &fakeVenueAdapter{
		tag:   venue.Jupiter,
		quote: venue.Quote{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromInt(10), EstimatedOutput: decimal.NewFromInt(100)},
	}
	w, store, _, hub, _ := newTestWorker("order-3", []venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05})

	job := queue.Job{OrderID: "order-3", TokenIn: "SOL", TokenOut: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Amount: decimal.NewFromInt(10), Slippage: decimal.NewFromFloat(0.5)}
	require.NoError(t, w.process(context.Background(), job))

	final, err := store.FindByID(context.Background(), "order-3")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, final.Status)
	assert.Equal(t, 0, adapter.swapCalls, "a request outside the configured slippage bound must never reach the venue adapter")
	assert.Equal(t, []string{"routing", "building", "failed"}, hub.statuses())
}

func TestProcessRetriesSlippageBreachBeforeFailing(t *testing.T) {
	adapter := &fakeVenueAdapter{
		tag:     venue.Jupiter,
		quote:   venue.Quote{Venue: venue.Jupiter, EffectivePrice: decimal.NewFromInt(10), EstimatedOutput: decimal.NewFromInt(100)},
		swapErr: venue.ErrSlippageExceeded,
	}
	w, store, _, hub, _ := newTestWorker("order-4", []venue.Adapter{adapter}, config.ExecutorConfig{MaxSlippage: 0.05})

	job := queue.Job{OrderID: "order-4", TokenIn: "SOL", TokenOut: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Amount: decimal.NewFromInt(10), Slippage: decimal.NewFromFloat(0.01)}
	require.NoError(t, w.process(context.Background(), job))

	final, err := store.FindByID(context.Background(), "order-4")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, final.Status)
	require.NotNil(t, final.FailReason)
	assert.Greater(t, adapter.swapCalls, 1, "a slippage breach at the venue must be retried, not failed on the first attempt")
	assert.Equal(t, []string{"routing", "building", "failed"}, hub.statuses())
}
