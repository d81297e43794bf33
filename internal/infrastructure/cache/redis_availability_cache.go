package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultAvailabilityPrefix = "bundle:availability:"

// RedisAvailabilityCache keeps one hash per bundle (field = location or
// "all"), so invalidation is a single DEL shared by every engine instance.
// The hash expires as a whole; Set refreshes the expiry.
type RedisAvailabilityCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisAvailabilityCache creates a cache on an existing client
func NewRedisAvailabilityCache(client redis.UniversalClient, keyPrefix string) *RedisAvailabilityCache {
	if keyPrefix == "" {
		keyPrefix = defaultAvailabilityPrefix
	}
	return &RedisAvailabilityCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisAvailabilityCache) key(bundleID uuid.UUID) string {
	return c.keyPrefix + bundleID.String()
}

// Get returns the cached value for bundle and location
func (c *RedisAvailabilityCache) Get(ctx context.Context, bundleID uuid.UUID, locationID *uuid.UUID) (int64, bool, error) {
	v, err := c.client.HGet(ctx, c.key(bundleID), locationField(locationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read availability cache: %w", err)
	}
	return v, true, nil
}

// Set stores a value and refreshes the bundle hash expiry
func (c *RedisAvailabilityCache) Set(ctx context.Context, bundleID uuid.UUID, locationID *uuid.UUID, value int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := c.key(bundleID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, locationField(locationID), value)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write availability cache: %w", err)
	}
	return nil
}

// InvalidateBundles deletes the hashes of the bundles
func (c *RedisAvailabilityCache) InvalidateBundles(ctx context.Context, bundleIDs ...uuid.UUID) error {
	if len(bundleIDs) == 0 {
		return nil
	}
	keys := make([]string, len(bundleIDs))
	for i, id := range bundleIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate availability cache: %w", err)
	}
	return nil
}

var _ bundle.AvailabilityCache = (*RedisAvailabilityCache)(nil)
