package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-course-trade/internal/orders"
)

type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusView, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.StatusView{}, false, nil
	}
	if err != nil {
		return orders.StatusView{}, false, fmt.Errorf("redis: get status %s: %w", orderID, err)
	}
	var v orders.StatusView
	if err := json.Unmarshal(raw, &v); err != nil {
		return orders.StatusView{}, false, fmt.Errorf("redis: decode status %s: %w", orderID, err)
	}
	return v, true, nil
}

func (c *StatusCache) Set(ctx context.Context, v orders.StatusView) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode status %s: %w", v.OrderID, err)
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, v.OrderID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set status %s: %w", v.OrderID, err)
	}
	return nil
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	if err := c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate status %s: %w", orderID, err)
	}
	return nil
}
