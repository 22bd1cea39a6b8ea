package order

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dex-router/order-engine/pkg/database"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCache(t *testing.T) Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(database.WrapRedisClient(client, nil))
}

func sampleOrder() *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        "order-1",
		TokenIn:   "SOL",
		TokenOut:  "USDC",
		Amount:    decimal.NewFromInt(10),
		Slippage:  decimal.NewFromFloat(0.005),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	c := newMockCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleOrder(), time.Minute))

	got, err := c.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(10)))
}

func TestCacheGetMissReturnsErrCacheMiss(t *testing.T) {
	c := newMockCache(t)
	_, err := c.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheDeleteIsIdempotent(t *testing.T) {
	c := newMockCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, sampleOrder(), time.Minute))

	require.NoError(t, c.Delete(ctx, "order-1"))
	require.NoError(t, c.Delete(ctx, "order-1"))

	exists, err := c.Exists(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheRefreshTTLMissingKeyReturnsErrCacheMiss(t *testing.T) {
	c := newMockCache(t)
	err := c.RefreshTTL(context.Background(), "nonexistent", time.Minute)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
