// Package foreground grants the background-execution privilege: a process
// may keep serving only while it shows a persistent notification.
package foreground

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dexft/dexft/internal/notification"
)

const (
	DefaultStartRate  = 0.5
	DefaultStartBurst = 3
)

// ErrUnknownGrant is returned when releasing a grant that is not live.
var ErrUnknownGrant = errors.New("foreground: unknown grant")

// Request describes the notification that backs a grant.
type Request struct {
	ChannelID string
	Title     string
	Text      string
}

// Grant is a live background-execution claim and its notification.
type Grant struct {
	ID           string
	Notification notification.Handle
	Request      Request
	AcquiredAt   time.Time
}

// DeniedError reports that the host refused the privilege.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "foreground: privilege denied: " + e.Reason
}

// IsDenied reports whether err is (or wraps) a *DeniedError.
func IsDenied(err error) bool {
	var target *DeniedError
	return errors.As(err, &target)
}

// Host is the privilege API consumed by the lifecycle controller.
type Host interface {
	Acquire(ctx context.Context, req Request) (*Grant, error)
	Release(g *Grant) error
	Active() int
}

// Notifier posts and cancels persistent notifications.
type Notifier interface {
	Post(ctx context.Context, n notification.Notification) (notification.Handle, error)
	Cancel(ctx context.Context, h notification.Handle) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithStartRate limits how often a background start may be granted.
func WithStartRate(perSecond float64, burst int) Option {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithNotificationsPermitted installs the check run before each grant.
func WithNotificationsPermitted(fn func(ctx context.Context) bool) Option {
	return func(m *Manager) { m.permitted = fn }
}

// Manager implements Host on top of a notification center.
type Manager struct {
	notifier  Notifier
	limiter   *rate.Limiter
	permitted func(ctx context.Context) bool

	mu     sync.Mutex
	grants map[string]*Grant
}

// NewManager creates a privilege manager posting through notifier.
func NewManager(notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(DefaultStartRate), DefaultStartBurst),
		grants:   make(map[string]*Grant),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStartRate updates the start limiter in place.
func (m *Manager) SetStartRate(perSecond float64, burst int) {
	m.limiter.SetLimit(rate.Limit(perSecond))
	m.limiter.SetBurst(burst)
}

// Acquire grants the privilege and posts the persistent notification.
// Denials are reported as *DeniedError.
func (m *Manager) Acquire(ctx context.Context, req Request) (*Grant, error) {
	if !m.limiter.Allow() {
		return nil, &DeniedError{Reason: "background start rate limited"}
	}
	if m.permitted != nil && !m.permitted(ctx) {
		return nil, &DeniedError{Reason: "notifications not permitted"}
	}
	if m.notifier == nil {
		return nil, &DeniedError{Reason: "no notification channel"}
	}

	handle, err := m.notifier.Post(ctx, notification.Notification{
		ChannelID: req.ChannelID,
		Title:     req.Title,
		Text:      req.Text,
	})
	if err != nil {
		return nil, &DeniedError{Reason: fmt.Sprintf("post notification: %v", err)}
	}

	g := &Grant{
		ID:           uuid.NewString(),
		Notification: handle,
		Request:      req,
		AcquiredAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.grants[g.ID] = g
	m.mu.Unlock()

	log.Printf("[Foreground] granted %s", g.ID)
	return g, nil
}

// Release drops the grant and cancels its notification.
func (m *Manager) Release(g *Grant) error {
	if g == nil {
		return nil
	}
	m.mu.Lock()
	_, ok := m.grants[g.ID]
	delete(m.grants, g.ID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGrant, g.ID)
	}

	log.Printf("[Foreground] released %s", g.ID)
	if err := m.notifier.Cancel(context.Background(), g.Notification); err != nil {
		return fmt.Errorf("foreground: release %s: %w", g.ID, err)
	}
	return nil
}

// Active returns the number of live grants.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}
