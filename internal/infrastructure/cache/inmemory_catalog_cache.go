package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type catalogEntry struct {
	id        uuid.UUID
	expiresAt time.Time // zero means no expiry
}

// InMemoryCatalogCache keeps catalog resolutions in process memory.
// It suits single-instance deployments and tests.
type InMemoryCatalogCache struct {
	mu        sync.RWMutex
	entries   map[string]catalogEntry
	ttl       time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryCatalogCache creates a cache. With a positive ttl a background
// goroutine drops expired entries until Close is called.
func NewInMemoryCatalogCache(ttl time.Duration) *InMemoryCatalogCache {
	c := &InMemoryCatalogCache{
		entries:  make(map[string]catalogEntry),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	if ttl > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(ttl)
	}
	return c
}

// Get returns the cached catalog id of a lookup key
func (c *InMemoryCatalogCache) Get(_ context.Context, lookupKey string) (uuid.UUID, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[lookupKey]
	if !ok || c.expired(e) {
		return uuid.Nil, false, nil
	}
	return e.id, true, nil
}

// Set stores the catalog id of a lookup key
func (c *InMemoryCatalogCache) Set(_ context.Context, lookupKey string, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := catalogEntry{id: id}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[lookupKey] = e
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *InMemoryCatalogCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine
func (c *InMemoryCatalogCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	return nil
}

func (c *InMemoryCatalogCache) expired(e catalogEntry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *InMemoryCatalogCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *InMemoryCatalogCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
		}
	}
}
