package referral

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-lab/internal/pricing"
)

const defaultCacheKey = "lab:referral-sources:v1"

// RedisCache shares the referral snapshot between service replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	key    string
}

// NewRedisCache constructs the shared cache. A nil client yields a cache that always misses.
func NewRedisCache(client *redis.Client, ttl time.Duration, key string) *RedisCache {
	if key == "" {
		key = defaultCacheKey
	}
	return &RedisCache{client: client, ttl: ttl, key: key}
}

// Get returns the cached snapshot and whether one was present.
func (c *RedisCache) Get(ctx context.Context) ([]pricing.ReferralSource, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var sources []pricing.ReferralSource
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, false, err
	}
	return sources, true, nil
}

// Set stores the snapshot with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, sources []pricing.ReferralSource) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}

// Clear removes the snapshot.
func (c *RedisCache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key).Err()
}

// Ping checks connectivity to the backing Redis.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
