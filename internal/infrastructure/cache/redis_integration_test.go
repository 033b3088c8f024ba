//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestIntegration_RedisCatalogCache(t *testing.T) {
	client := startRedis(t)
	cache := NewRedisCatalogCacheWithClient(client, "test:catalog:", time.Minute)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "OZON:SKU-A")
	require.NoError(t, err)
	assert.False(t, ok)

	id := uuid.New()
	require.NoError(t, cache.Set(ctx, "OZON:SKU-A", id))
	got, ok, err := cache.Get(ctx, "OZON:SKU-A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	ttl, err := client.TTL(ctx, "test:catalog:OZON:SKU-A").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// garbage in the key is a miss
	require.NoError(t, client.Set(ctx, "test:catalog:bad", "not-a-uuid", 0).Err())
	_, ok, err = cache.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntegration_RedisSweepLocker(t *testing.T) {
	client := startRedis(t)
	first := NewRedisSweepLocker(client, "")
	second := NewRedisSweepLocker(client, "")
	ctx := context.Background()

	release, err := first.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)

	_, err = second.Acquire(ctx, "reconcile", time.Minute)
	assert.ErrorIs(t, err, shared.ErrAlreadyLocked)

	require.NoError(t, release(ctx))
	again, err := second.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
	// releasing twice is harmless
	require.NoError(t, again(ctx))
}

func TestIntegration_RedisSweepLockerRefreshes(t *testing.T) {
	client := startRedis(t)
	locker := NewRedisSweepLocker(client, "")
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "match", 300*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = locker.Acquire(ctx, "match", time.Minute)
	assert.ErrorIs(t, err, shared.ErrAlreadyLocked)
	require.NoError(t, release(ctx))

	lost, err := locker.Acquire(ctx, "quality", time.Minute)
	require.NoError(t, err)
	require.NoError(t, client.Del(ctx, defaultLockKeyPrefix+"quality").Err())
	assert.ErrorIs(t, lost(ctx), ErrLockLost)
}
