package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// CatalogCache is a lookup key to catalog id cache
type CatalogCache interface {
	Get(ctx context.Context, lookupKey string) (uuid.UUID, bool, error)
	Set(ctx context.Context, lookupKey string, id uuid.UUID) error
	Close() error
}

// Caches bundles the shared state of ledger sweeps
type Caches struct {
	Catalog CatalogCache
	Locker  SweepLocker
	// Distributed is false when the process runs on in-memory fallbacks
	Distributed bool

	client *redis.Client
}

// Close releases the catalog cache and the Redis connection
func (c *Caches) Close() error {
	err := c.Catalog.Close()
	if c.client != nil {
		if cerr := c.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Factory creates sweep caches based on configuration
type Factory struct {
	redisConfig           config.RedisConfig
	catalogTTL            time.Duration
	logger                *zap.Logger
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

// WithInMemoryFallback controls whether to fall back to in-memory caches when
// Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, catalogTTL time.Duration, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		catalogTTL:            catalogTTL,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedis creates Redis-backed caches sharing one client
func (f *Factory) CreateRedis() (*Caches, error) {
	client, err := newRedisClient(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, err
	}
	return &Caches{
		Catalog:     NewRedisCatalogCacheWithClient(client, "", f.catalogTTL),
		Locker:      NewRedisSweepLocker(client, ""),
		Distributed: true,
		client:      client,
	}, nil
}

// CreateInMemory creates process-local caches.
// WARNING: sweep locks do not span processes, so two workers may run the same sweep.
func (f *Factory) CreateInMemory() *Caches {
	return &Caches{
		Catalog: NewInMemoryCatalogCache(f.catalogTTL),
		Locker:  NewLocalSweepLocker(),
	}
}

// Create returns Redis caches when Redis is enabled and reachable, and
// in-memory caches otherwise if fallback is allowed
func (f *Factory) Create() (*Caches, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory sweep caches")
		return f.CreateInMemory(), nil
	}

	caches, err := f.CreateRedis()
	if err == nil {
		f.logger.Info("Using Redis sweep caches", zap.String("addr", f.redisConfig.Addr()))
		return caches, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for sweep caches but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory sweep caches. "+
		"Sweep locks will not span processes.",
		zap.Error(err),
	)
	return f.CreateInMemory(), nil
}
