package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
	"github.com/rl1809/storefront-settlement/internal/port"
)

const (
	stockKeyPrefix   = "stock:"
	reconcileListKey = "reconcile:pending"
)

// reserveScript performs the conditional decrement as one atomic operation
// inside Redis. Return codes: 1 reserved, 0 insufficient, -1 key missing.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

// releaseScript increments stock back, refusing to resurrect a key that was
// never seeded.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
	return -1
end

return redis.call('INCRBY', key, quantity)
`)

// RedisAdapter is the cache-side inventory ledger and the reconciliation
// queue. Lua scripts make each ledger mutation a single atomic Redis command,
// so Redis linearizes conflicting reserves for the same product.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func stockKey(key domain.ProductKey) string {
	return stockKeyPrefix + key.Company + ":" + key.Name
}

func (r *RedisAdapter) Reserve(ctx context.Context, key domain.ProductKey, qty int) error {
	result, err := reserveScript.Run(ctx, r.client, []string{stockKey(key)}, qty).Int()
	if err != nil {
		return fmt.Errorf("reserve script: %w", err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return port.ErrInsufficientStock
	default:
		return port.ErrProductNotFound
	}
}

func (r *RedisAdapter) Release(ctx context.Context, key domain.ProductKey, qty int) error {
	result, err := releaseScript.Run(ctx, r.client, []string{stockKey(key)}, qty).Int()
	if err != nil {
		return fmt.Errorf("release script: %w", err)
	}
	if result < 0 {
		return port.ErrProductNotFound
	}
	return nil
}

// SetStock seeds the ledger counter for a product. Used at boot and in tests;
// never called on the settlement path.
func (r *RedisAdapter) SetStock(ctx context.Context, key domain.ProductKey, qty int) error {
	return r.client.Set(ctx, stockKey(key), qty, 0).Err()
}

func (r *RedisAdapter) Push(ctx context.Context, entry port.ReconciliationEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reconciliation entry: %w", err)
	}
	return r.client.LPush(ctx, reconcileListKey, payload).Err()
}

func (r *RedisAdapter) Pop(ctx context.Context) (*port.ReconciliationEntry, error) {
	payload, err := r.client.RPop(ctx, reconcileListKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop reconciliation entry: %w", err)
	}

	var entry port.ReconciliationEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal reconciliation entry: %w", err)
	}
	return &entry, nil
}
