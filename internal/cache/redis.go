// Package cache is the read-side query cache for resolved requirement views.
// Writers never push updates into it; every mutation invalidates the owning
// project's prefix and readers re-fetch from the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "effective:"

// RequirementCache caches serialized effective-requirement payloads in Redis,
// keyed by scope identifiers.
type RequirementCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and returns a cache with the given entry TTL.
func NewRedisCache(redisURL string, ttl time.Duration) (*RequirementCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RequirementCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RequirementCache {
	return &RequirementCache{client: client, ttl: ttl}
}

// ProjectKey addresses a project's full requirements matrix.
func ProjectKey(projectID string) string {
	return keyPrefix + projectID
}

// VariantKey addresses a single variant's resolved view within a project.
func VariantKey(projectID, variantID string) string {
	return keyPrefix + projectID + ":" + variantID
}

// Get returns the cached payload for key, with ok=false on a miss.
func (c *RequirementCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return payload, true, nil
}

func (c *RequirementCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RequirementCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// InvalidateProject drops every cached view under one project. A write at
// any layer can change the effective value of every untouched variant
// beneath it, so invalidation is always prefix-wide.
func (c *RequirementCache) InvalidateProject(ctx context.Context, projectID string) error {
	if err := c.client.Del(ctx, ProjectKey(projectID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	match := keyPrefix + projectID + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache invalidate: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping verifies the Redis connection is alive
func (c *RequirementCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RequirementCache) Close() error {
	return c.client.Close()
}
