package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dex-router/order-engine/pkg/database"
	"github.com/redis/go-redis/v9"
)

// Cache is the advisory, low-latency view of in-flight order state.
// It is never a source of truth: get misses and stale reads must fall
// back to Store.
type Cache interface {
	Set(ctx context.Context, o *Order, ttl time.Duration) error
	Get(ctx context.Context, orderID string) (*Order, error)
	Delete(ctx context.Context, orderID string) error
	Exists(ctx context.Context, orderID string) (bool, error)
	RefreshTTL(ctx context.Context, orderID string, ttl time.Duration) error
}

// ErrCacheMiss is returned by Get when no entry exists, distinguished
// from other Redis errors so callers can fall back to the store
// without logging it as a failure.
var ErrCacheMiss = errors.New("order cache miss")

type redisCache struct {
	client *database.RedisClient
}

// NewRedisCache builds a Cache over the shared Redis client, grounded
// on pkg/database/redis.go's SetWithExpiry/GetString/Exists helpers.
func NewRedisCache(client *database.RedisClient) Cache {
	return &redisCache{client: client}
}

func cacheKey(orderID string) string {
	return "order:" + orderID
}

func (c *redisCache) Set(ctx context.Context, o *Order, ttl time.Duration) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order for cache: %w", err)
	}
	if err := c.client.SetWithExpiry(ctx, cacheKey(o.ID), payload, ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *redisCache) Get(ctx context.Context, orderID string) (*Order, error) {
	raw, err := c.client.Client.Get(ctx, cacheKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("unmarshal cached order: %w", err)
	}
	return &o, nil
}

// Delete removes the cache entry. It is idempotent: deleting a
// nonexistent key is not an error.
func (c *redisCache) Delete(ctx context.Context, orderID string) error {
	if err := c.client.DeleteKeys(ctx, cacheKey(orderID)); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *redisCache) Exists(ctx context.Context, orderID string) (bool, error) {
	ok, err := c.client.Exists(ctx, cacheKey(orderID))
	if err != nil {
		return false, fmt.Errorf("cache exists: %w", err)
	}
	return ok, nil
}

func (c *redisCache) RefreshTTL(ctx context.Context, orderID string, ttl time.Duration) error {
	ok, err := c.client.Client.Expire(ctx, cacheKey(orderID), ttl).Result()
	if err != nil {
		return fmt.Errorf("cache refresh ttl: %w", err)
	}
	if !ok {
		return ErrCacheMiss
	}
	return nil
}
