package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates keyed stores backed by Redis when enabled and reachable,
// falling back to process memory otherwise.
type Factory struct {
	cfg                   config.RedisConfig
	logger                *zap.Logger
	client                *redis.Client
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to memory.
// Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory connects to Redis when cfg.Enabled is set
func NewFactory(ctx context.Context, cfg config.RedisConfig, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{cfg: cfg, logger: zap.NewNop(), allowInMemoryFallback: true}
	for _, opt := range opts {
		opt(f)
	}
	if !cfg.Enabled {
		f.logger.Info("redis disabled, keyed state is kept in process memory")
		return f, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required for keyed state but unavailable: %w", err)
		}
		f.logger.Warn("redis unavailable, falling back to in-memory keyed state. "+
			"Queue and batch state will not be shared across instances.",
			zap.String("addr", cfg.Addr()), zap.Error(err))
		return f, nil
	}
	f.client = client
	f.logger.Info("using redis keyed state", zap.String("addr", cfg.Addr()))
	return f, nil
}

// UsesRedis reports whether stores are backed by Redis
func (f *Factory) UsesRedis() bool {
	return f.client != nil
}

// Ping checks the Redis connection. In-memory stores are always reachable.
func (f *Factory) Ping(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}

// Close releases the Redis client
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}

// NewStore creates a namespaced store
func NewStore[T any](f *Factory, namespace string, ttl time.Duration) shared.KeyedStore[T] {
	if f.client != nil {
		return NewRedisStore[T](f.client, f.cfg.KeyPrefix, namespace, ttl)
	}
	return NewInMemoryStore[T](ttl)
}
