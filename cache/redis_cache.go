package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the provider cache with a Redis instance, using key
// "tinyevm_<chain>_<block>_<api>_<request_hash>".
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds a RedisCache from a connection address, e.g.
// "localhost:6379". It does not ping the server; connection errors surface
// on first use.
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisCacheFromClient wraps an already-configured *redis.Client,
// letting callers share a connection pool across components.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func key(chain string, block uint64, apiMethod, requestHash string) string {
	return fmt.Sprintf("tinyevm_%s_%d_%s_%s", chain, block, apiMethod, requestHash)
}

// Store sets the key with no expiration, matching the always-fresh semantics
// of a fork pinned to a fixed block.
func (c *RedisCache) Store(chain string, block uint64, apiMethod, requestHash, body string) error {
	ctx := context.Background()
	if err := c.client.Set(ctx, key(chain, block, apiMethod, requestHash), body, 0).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Get retrieves the key, translating redis.Nil into the shared Miss error.
func (c *RedisCache) Get(chain string, block uint64, apiMethod, requestHash string) (string, error) {
	ctx := context.Background()
	val, err := c.client.Get(ctx, key(chain, block, apiMethod, requestHash)).Result()
	if err == redis.Nil {
		return "", Miss
	}
	if err != nil {
		return "", fmt.Errorf("cache: redis get: %w", err)
	}
	return val, nil
}

// Clone returns a shallow copy sharing the same underlying *redis.Client
// and its connection pool.
func (c *RedisCache) Clone() Cache {
	clone := *c
	return &clone
}
