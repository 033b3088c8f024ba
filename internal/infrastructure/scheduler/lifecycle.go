package scheduler

import (
	"context"
	"sync"
)

// lifecycle runs a group of loops that start and stop together
type lifecycle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// start runs every loop in its own goroutine under a child of ctx. It
// reports false when the group is already running.
func (l *lifecycle) start(ctx context.Context, loops ...func(context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return false
	}
	ctx, l.cancel = context.WithCancel(ctx)
	for _, loop := range loops {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			loop(ctx)
		}()
	}
	return true
}

func (l *lifecycle) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// stop cancels the loops and waits until they return or ctx ends. It
// reports false when the group was not running.
func (l *lifecycle) stop(ctx context.Context) (bool, error) {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return false, nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}
