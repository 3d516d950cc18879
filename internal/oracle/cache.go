package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PriceCache holds the last committed aggregated price per asset.
type PriceCache interface {
	Get(ctx context.Context, symbol string) (AggregatedPrice, bool, error)
	Set(ctx context.Context, p AggregatedPrice) error
}

// MemoryCache is the in-process PriceCache.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]AggregatedPrice
}

var _ PriceCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]AggregatedPrice)}
}

// Get returns the cached price for symbol.
func (c *MemoryCache) Get(_ context.Context, symbol string) (AggregatedPrice, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok, nil
}

// Set stores p under its symbol.
func (c *MemoryCache) Set(_ context.Context, p AggregatedPrice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[p.Symbol] = p
	return nil
}

// RedisCache stores aggregated prices as JSON under oracle:price:{symbol},
// so several service replicas observe the same committed prices.
type RedisCache struct {
	client *redis.Client
}

var _ PriceCache = (*RedisCache)(nil)

// NewRedisCache creates a RedisCache on client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func priceKey(symbol string) string {
	return "oracle:price:" + symbol
}

// Get returns the cached price for symbol.
func (r *RedisCache) Get(ctx context.Context, symbol string) (AggregatedPrice, bool, error) {
	raw, err := r.client.Get(ctx, priceKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AggregatedPrice{}, false, nil
		}
		return AggregatedPrice{}, false, fmt.Errorf("failed to get cached price: %w", err)
	}

	var p AggregatedPrice
	if err := json.Unmarshal(raw, &p); err != nil {
		return AggregatedPrice{}, false, fmt.Errorf("failed to unmarshal cached price: %w", err)
	}
	return p, true, nil
}

// Set stores p under its symbol.
func (r *RedisCache) Set(ctx context.Context, p AggregatedPrice) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}
	if err := r.client.Set(ctx, priceKey(p.Symbol), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to set cached price: %w", err)
	}
	return nil
}
