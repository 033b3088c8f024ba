package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/salesledger/backend/internal/domain/shared"
)

const defaultLockKeyPrefix = "ledger:sweep-lock:"

// ErrLockLost is returned on release when a sweep lock expired or was taken
// by another holder while the sweep ran.
var ErrLockLost = errors.New("sweep lock lost")

// ReleaseFunc gives a sweep lock back
type ReleaseFunc func(ctx context.Context) error

// SweepLocker keeps two processes from running the same sweep at once.
// Acquire returns shared.ErrAlreadyLocked when another holder has the lock.
// A held lock is refreshed every third of its ttl until released, so ttl
// bounds how long a crashed holder blocks the sweep, not how long it runs.
type SweepLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, error)
}

// lease refreshes a held lock in the background
type lease struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// keepAlive calls refresh every third of ttl until stopped. A refresh
// failing with ErrLockLost ends it; other errors are retried on the next tick.
func keepAlive(ctx context.Context, ttl time.Duration, refresh func(context.Context) error) *lease {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &lease{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(max(ttl/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := refresh(ctx)
				if errors.Is(err, ErrLockLost) {
					l.err = err
					return
				}
			}
		}
	}()
	return l
}

// stop ends the refresh loop and reports whether the lock was lost
func (l *lease) stop() error {
	l.cancel()
	<-l.done
	return l.err
}

// RedisSweepLocker takes sweep locks in Redis
type RedisSweepLocker struct {
	locker    *redislock.Client
	keyPrefix string
}

// NewRedisSweepLocker creates a locker on an existing client
func NewRedisSweepLocker(client *redis.Client, keyPrefix string) *RedisSweepLocker {
	if keyPrefix == "" {
		keyPrefix = defaultLockKeyPrefix
	}
	return &RedisSweepLocker{
		locker:    redislock.New(client),
		keyPrefix: keyPrefix,
	}
}

// Acquire obtains the named lock for ttl without waiting
func (l *RedisSweepLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, error) {
	lock, err := l.locker.Obtain(ctx, l.keyPrefix+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrAlreadyLocked.Withf("%s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain sweep lock %s: %w", name, err)
	}
	held := keepAlive(ctx, ttl, func(ctx context.Context) error {
		err := lock.Refresh(ctx, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrLockLost
		}
		return err
	})
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if lost := held.stop(); lost != nil {
				err = fmt.Errorf("%w: %s", lost, name)
				return
			}
			err = lock.Release(ctx)
			if errors.Is(err, redislock.ErrLockNotHeld) {
				err = fmt.Errorf("%w: %s", ErrLockLost, name)
			}
		})
		return err
	}, nil
}

// LocalSweepLocker holds sweep locks in process memory
type LocalSweepLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	now   func() time.Time
	token uint64
	owner map[string]uint64
}

// NewLocalSweepLocker creates an in-process locker
func NewLocalSweepLocker() *LocalSweepLocker {
	return &LocalSweepLocker{
		held:  make(map[string]time.Time),
		owner: make(map[string]uint64),
		now:   time.Now,
	}
}

// Acquire obtains the named lock for ttl without waiting
func (l *LocalSweepLocker) Acquire(_ context.Context, name string, ttl time.Duration) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expires, ok := l.held[name]; ok && l.now().Before(expires) {
		return nil, shared.ErrAlreadyLocked.Withf("%s", name)
	}
	l.token++
	token := l.token
	l.held[name] = l.now().Add(ttl)
	l.owner[name] = token

	held := keepAlive(context.Background(), ttl, func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.owner[name] != token {
			return ErrLockLost
		}
		l.held[name] = l.now().Add(ttl)
		return nil
	})

	var once sync.Once
	return func(context.Context) error {
		var err error
		once.Do(func() {
			if lost := held.stop(); lost != nil {
				err = fmt.Errorf("%w: %s", lost, name)
			}
			l.mu.Lock()
			defer l.mu.Unlock()
			// a lock that expired and was taken again belongs to its new holder
			if l.owner[name] == token {
				delete(l.held, name)
				delete(l.owner, name)
			}
		})
		return err
	}, nil
}

var (
	_ SweepLocker = (*RedisSweepLocker)(nil)
	_ SweepLocker = (*LocalSweepLocker)(nil)
)
