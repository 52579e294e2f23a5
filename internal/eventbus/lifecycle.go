package eventbus

import (
	"context"
	"sync"
)

// ServiceLifecycle bundles the plumbing shared by bus-driven services: a
// cancellable context, subscriptions to close on stop, and tracked workers.
// The zero value is ready to use; call Start before Go.
type ServiceLifecycle struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []interface{ Close() }
	wg   sync.WaitGroup
}

// Start derives the service context from parent.
func (l *ServiceLifecycle) Start(parent context.Context) {
	l.ctx, l.cancel = context.WithCancel(parent)
}

// Context returns the service context.
func (l *ServiceLifecycle) Context() context.Context {
	return l.ctx
}

// AddSubscriptions registers subscriptions closed by Shutdown.
func (l *ServiceLifecycle) AddSubscriptions(subs ...interface{ Close() }) {
	l.mu.Lock()
	l.subs = append(l.subs, subs...)
	l.mu.Unlock()
}

// Go runs worker on its own goroutine with the service context.
func (l *ServiceLifecycle) Go(worker func(ctx context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		worker(l.ctx)
	}()
}

// Shutdown cancels the context, closes subscriptions and waits for workers
// until ctx expires.
func (l *ServiceLifecycle) Shutdown(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return WaitForWorkers(ctx, &l.wg)
}

// WaitForWorkers blocks until wg drains or ctx is done.
func WaitForWorkers(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
