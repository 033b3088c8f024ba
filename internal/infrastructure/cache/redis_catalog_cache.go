package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultCatalogKeyPrefix = "ledger:catalog:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisCatalogCache shares lookup key to catalog id resolutions between
// matcher processes
type RedisCatalogCache struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	ownsClient bool
}

// NewRedisCatalogCache connects to Redis and creates a catalog cache.
// A zero ttl keeps entries until Redis evicts them.
func NewRedisCatalogCache(cfg RedisConfig, ttl time.Duration) (*RedisCatalogCache, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCatalogCache{
		client:     client,
		keyPrefix:  defaultCatalogKeyPrefix,
		ttl:        ttl,
		ownsClient: true,
	}, nil
}

// NewRedisCatalogCacheWithClient creates a cache on an existing client
func NewRedisCatalogCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCatalogCache {
	if keyPrefix == "" {
		keyPrefix = defaultCatalogKeyPrefix
	}
	return &RedisCatalogCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Get returns the cached catalog id of a lookup key
func (c *RedisCatalogCache) Get(ctx context.Context, lookupKey string) (uuid.UUID, bool, error) {
	value, err := c.client.Get(ctx, c.keyPrefix+lookupKey).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read catalog cache: %w", err)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		// unreadable entries are treated as misses and overwritten on the next Set
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// Set stores the catalog id of a lookup key
func (c *RedisCatalogCache) Set(ctx context.Context, lookupKey string, id uuid.UUID) error {
	if err := c.client.Set(ctx, c.keyPrefix+lookupKey, id.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client
func (c *RedisCatalogCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis client if the cache created it
func (c *RedisCatalogCache) Close() error {
	if !c.ownsClient {
		return nil
	}
	return c.client.Close()
}
