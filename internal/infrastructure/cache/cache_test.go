package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCatalogCache_GetSet(t *testing.T) {
	cache := NewInMemoryCatalogCache(0)
	defer cache.Close()
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
}

func TestInMemoryCatalogCache_Expiry(t *testing.T) {
	cache := NewInMemoryCatalogCache(time.Minute)
	defer cache.Close()
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "WB:1", uuid.New()))
	_, ok, _ := cache.Get(ctx, "WB:1")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = cache.Get(ctx, "WB:1")
	assert.False(t, ok)

	cache.cleanup()
	assert.Zero(t, cache.Len())
}

func TestInMemoryCatalogCache_CloseIsIdempotent(t *testing.T) {
	cache := NewInMemoryCatalogCache(time.Millisecond)
	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())
}

func TestLocalSweepLocker(t *testing.T) {
	locker := NewLocalSweepLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "reconcile", time.Minute)
	assert.ErrorIs(t, err, shared.ErrAlreadyLocked)

	// other sweeps are independent
	releaseMatch, err := locker.Acquire(ctx, "match", time.Minute)
	require.NoError(t, err)
	require.NoError(t, releaseMatch(ctx))

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocalSweepLocker_ExpiredLockCanBeTaken(t *testing.T) {
	locker := NewLocalSweepLocker()
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "match", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := locker.Acquire(ctx, "match", time.Minute)
	require.NoError(t, err)

	// the first holder's release must not free the new holder's lock
	require.NoError(t, stale(ctx))
	_, err = locker.Acquire(ctx, "match", time.Minute)
	assert.ErrorIs(t, err, shared.ErrAlreadyLocked)
	require.NoError(t, fresh(ctx))
}

func TestLocalSweepLocker_RefreshesWhileHeld(t *testing.T) {
	locker := NewLocalSweepLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "reconcile", 30*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, err = locker.Acquire(ctx, "reconcile", time.Minute)
	assert.ErrorIs(t, err, shared.ErrAlreadyLocked, "a running sweep outlives its ttl")

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocalSweepLocker_ReleaseReportsLostLock(t *testing.T) {
	locker := NewLocalSweepLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "match", 30*time.Millisecond)
	require.NoError(t, err)

	locker.mu.Lock()
	locker.owner["match"] = 0
	locker.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	assert.ErrorIs(t, release(ctx), ErrLockLost)
}

func TestFactory_DisabledRedisUsesInMemory(t *testing.T) {
	caches, err := NewFactory(config.RedisConfig{Enabled: false}, time.Minute).Create()
	require.NoError(t, err)
	defer caches.Close()

	assert.False(t, caches.Distributed)
	assert.IsType(t, &InMemoryCatalogCache{}, caches.Catalog)
	assert.IsType(t, &LocalSweepLocker{}, caches.Locker)
}

func TestFactory_UnreachableRedis(t *testing.T) {
	cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	caches, err := NewFactory(cfg, 0).Create()
	require.NoError(t, err)
	defer caches.Close()
	assert.False(t, caches.Distributed)

	_, err = NewFactory(cfg, 0, WithInMemoryFallback(false)).Create()
	assert.Error(t, err)
}
