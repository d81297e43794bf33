package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/erp/bundle-engine/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates caches and idempotency stores based on configuration.
// A single Redis client is shared by everything it creates.
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	pingTimeout           time.Duration

	client redis.UniversalClient
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory
// implementations when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// WithPingTimeout bounds the Redis connectivity check
func WithPingTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) {
		f.pingTimeout = d
	}
}

// WithRedisClient reuses an existing client instead of dialing one
func WithRedisClient(client redis.UniversalClient) FactoryOption {
	return func(f *Factory) {
		f.client = client
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		pingTimeout:           5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// redisClient returns the shared client after a successful ping
func (f *Factory) redisClient() (redis.UniversalClient, error) {
	if f.client == nil {
		f.client = redis.NewClient(&redis.Options{
			Addr:     f.redisConfig.Addr(),
			Password: f.redisConfig.Password,
			DB:       f.redisConfig.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.pingTimeout)
	defer cancel()
	if err := f.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", f.redisConfig.Addr(), err)
	}
	return f.client, nil
}

// CreateIdempotencyStore tries Redis first and falls back to an in-memory
// store when allowed
func (f *Factory) CreateIdempotencyStore() (shared.IdempotencyStore, error) {
	client, err := f.redisClient()
	if err == nil {
		f.logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(client, ""), nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for idempotency but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store. "+
		"Postings may be duplicated across engine instances.",
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(), nil
}

// CreateAvailabilityCache builds the cache named by cfg. It returns nil when
// caching is disabled.
func (f *Factory) CreateAvailabilityCache(cfg config.AvailabilityConfig) (bundle.AvailabilityCache, error) {
	if !cfg.CacheEnabled {
		return nil, nil
	}
	if cfg.CacheBackend != "redis" {
		return NewInMemoryAvailabilityCache(), nil
	}

	client, err := f.redisClient()
	if err == nil {
		f.logger.Info("using Redis availability cache")
		return NewRedisAvailabilityCache(client, ""), nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for availability cache but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory availability cache", zap.Error(err))
	return NewInMemoryAvailabilityCache(), nil
}
