// Package cache holds the disposable read-through copies of orders. Entries
// are JSON snapshots under a service-prefixed key and are only ever filled on
// a read miss and dropped on a mutation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

const allOrdersKey = "all"

type RedisCache struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

var _ domain.OrderCache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, serviceName string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, serviceName: serviceName, ttl: ttl}
}

// GenerateKey builds "<service>:<kind>:<id>".
func (r *RedisCache) GenerateKey(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, kind, id)
}

func (r *RedisCache) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// A corrupt entry is a miss; the next fill overwrites it.
		return false, nil
	}
	return true, nil
}

func (r *RedisCache) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) GetOrder(ctx context.Context, id string) (*domain.Order, bool, error) {
	var o domain.Order
	ok, err := r.get(ctx, r.GenerateKey("order", id), &o)
	if !ok {
		return nil, false, err
	}
	return &o, true, nil
}

func (r *RedisCache) SetOrder(ctx context.Context, o *domain.Order) error {
	return r.set(ctx, r.GenerateKey("order", o.ID), o)
}

func (r *RedisCache) GetAll(ctx context.Context) ([]domain.Order, bool, error) {
	var orders []domain.Order
	ok, err := r.get(ctx, r.GenerateKey("orders", allOrdersKey), &orders)
	if !ok {
		return nil, false, err
	}
	return orders, true, nil
}

func (r *RedisCache) SetAll(ctx context.Context, orders []domain.Order) error {
	return r.set(ctx, r.GenerateKey("orders", allOrdersKey), orders)
}

func (r *RedisCache) Invalidate(ctx context.Context, ids ...string) error {
	keys := []string{r.GenerateKey("orders", allOrdersKey)}
	for _, id := range ids {
		keys = append(keys, r.GenerateKey("order", id))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
