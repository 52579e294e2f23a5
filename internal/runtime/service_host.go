package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	configstore "github.com/dexft/dexft/internal/config/store"
)

const defaultShutdownTimeout = 5 * time.Second

// Service is a unit the daemon starts and stops as a whole.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceFactory builds a fresh Service. It runs on every start and restart,
// so settings read inside the factory are picked up by Restart.
type ServiceFactory func(ctx context.Context) (Service, error)

// ConfigWatcher emits change notifications for persisted settings and the
// media index. *configstore.Store satisfies it.
type ConfigWatcher interface {
	Watch(ctx context.Context, interval time.Duration) (<-chan configstore.ChangeEvent, error)
}

// ServiceStatus reports whether a registered service is currently running.
type ServiceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Option configures a service registration.
type Option func(*registration)

// WithShutdownTimeout bounds how long Shutdown may take for one service.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *registration) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

type registration struct {
	name    string
	factory ServiceFactory
	timeout time.Duration
	running Service
}

// ServiceHost starts services in registration order, stops them in reverse
// and forwards asynchronous service failures on Errors.
//
// ops serializes Start, Stop and Restart. mu only guards field access so
// Services stays answerable while a slow Shutdown is in flight.
type ServiceHost struct {
	ops     sync.Mutex
	mu      sync.RWMutex
	regs    []*registration
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	errs    chan error
}

// NewServiceHost returns an empty host.
func NewServiceHost() *ServiceHost {
	return &ServiceHost{errs: make(chan error, 1)}
}

// Register adds a named service. Registration closes once the host starts.
func (h *ServiceHost) Register(name string, factory ServiceFactory, opts ...Option) error {
	h.ops.Lock()
	defer h.ops.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("runtime: cannot register service %q after start", name)
	}
	if h.lookup(name) != nil {
		return fmt.Errorf("runtime: service %q already registered", name)
	}
	reg := &registration{name: name, factory: factory, timeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(reg)
	}
	h.regs = append(h.regs, reg)
	return nil
}

// Start brings every service up. A failure rolls back the services that
// already started.
func (h *ServiceHost) Start(ctx context.Context) error {
	h.ops.Lock()
	defer h.ops.Unlock()

	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("runtime: service host already started")
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started = true
	h.mu.Unlock()

	for i, reg := range h.regs {
		if err := h.launch(reg); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := h.halt(context.Background(), h.regs[j]); stopErr != nil {
					log.Printf("[Runtime] rollback %s: %v", h.regs[j].name, stopErr)
				}
			}
			h.mu.Lock()
			h.started = false
			h.mu.Unlock()
			h.cancel()
			return err
		}
	}
	return nil
}

// Stop cancels the host context and shuts services down in reverse order.
// It returns the last shutdown error, if any.
func (h *ServiceHost) Stop(ctx context.Context) error {
	h.ops.Lock()
	defer h.ops.Unlock()

	h.mu.Lock()
	wasStarted := h.started
	h.started = false
	h.mu.Unlock()
	if !wasStarted {
		return nil
	}
	h.cancel()

	var lastErr error
	for i := len(h.regs) - 1; i >= 0; i-- {
		if err := h.halt(ctx, h.regs[i]); err != nil {
			log.Printf("[Runtime] shutdown %s: %v", h.regs[i].name, err)
			lastErr = err
		}
	}
	return lastErr
}

// Restart replaces one running service with a freshly built instance.
func (h *ServiceHost) Restart(ctx context.Context, name string) error {
	h.ops.Lock()
	defer h.ops.Unlock()

	h.mu.RLock()
	started := h.started
	reg := h.lookup(name)
	h.mu.RUnlock()
	if !started {
		return errors.New("runtime: host not started")
	}
	if reg == nil {
		return fmt.Errorf("runtime: service %q not registered", name)
	}
	if err := h.halt(ctx, reg); err != nil {
		return err
	}
	if err := h.launch(reg); err != nil {
		return err
	}
	log.Printf("[Runtime] restarted %s", name)
	return nil
}

// Services reports registered services in start order.
func (h *ServiceHost) Services() []ServiceStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(h.regs))
	for _, reg := range h.regs {
		out = append(out, ServiceStatus{Name: reg.name, Running: reg.running != nil})
	}
	return out
}

// Errors carries failures reported by services after they started.
func (h *ServiceHost) Errors() <-chan error {
	return h.errs
}

// WatchConfig polls watcher until ctx or the host context ends and hands
// every event to handler. The returned func stops watching early.
func (h *ServiceHost) WatchConfig(ctx context.Context, watcher ConfigWatcher, interval time.Duration, handler func(configstore.ChangeEvent)) (func(), error) {
	if watcher == nil {
		return nil, errors.New("runtime: config watcher is nil")
	}
	h.mu.RLock()
	if !h.started {
		h.mu.RUnlock()
		return nil, errors.New("runtime: cannot watch config before host is started")
	}
	watchCtx, cancel := context.WithCancel(h.ctx)
	h.mu.RUnlock()

	unlink := context.AfterFunc(ctx, cancel)
	events, err := watcher.Watch(watchCtx, interval)
	if err != nil {
		unlink()
		cancel()
		return nil, fmt.Errorf("runtime: watch config: %w", err)
	}

	go func() {
		defer unlink()
		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if handler != nil {
					handler(ev)
				}
			}
		}
	}()
	return cancel, nil
}

func (h *ServiceHost) lookup(name string) *registration {
	for _, reg := range h.regs {
		if reg.name == name {
			return reg
		}
	}
	return nil
}

// launch builds and starts reg. Callers hold h.ops.
func (h *ServiceHost) launch(reg *registration) error {
	svc, err := reg.factory(h.ctx)
	if err != nil {
		return fmt.Errorf("runtime: create service %q: %w", reg.name, err)
	}
	if err := svc.Start(h.ctx); err != nil {
		return fmt.Errorf("runtime: start service %q: %w", reg.name, err)
	}
	h.mu.Lock()
	reg.running = svc
	h.mu.Unlock()
	if reporter, ok := svc.(interface{ Errors() <-chan error }); ok {
		go h.forwardErrors(reg.name, reporter.Errors())
	}
	return nil
}

// halt shuts reg down within its timeout. Callers hold h.ops.
func (h *ServiceHost) halt(ctx context.Context, reg *registration) error {
	h.mu.Lock()
	svc := reg.running
	reg.running = nil
	h.mu.Unlock()
	if svc == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()
	if err := svc.Shutdown(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime: shutdown service %q: %w", reg.name, err)
	}
	return nil
}

func (h *ServiceHost) forwardErrors(name string, ch <-chan error) {
	if ch == nil {
		return
	}
	for err := range ch {
		if err == nil {
			continue
		}
		select {
		case h.errs <- fmt.Errorf("%s service error: %w", name, err):
		default:
			log.Printf("[Runtime] dropped error from %s: %v", name, err)
		}
	}
}
