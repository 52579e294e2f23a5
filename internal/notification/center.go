// Package notification keeps the persistent "server is running" notice that
// must be visible for as long as the daemon holds its background privilege.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dexft/dexft/internal/eventbus"
)

const maxConcurrentPush = 4

// ErrUnknownHandle is returned when cancelling a notification that is not posted.
var ErrUnknownHandle = errors.New("notification: unknown handle")

// Handle identifies a posted notification.
type Handle string

// Notification is a persistent, user-visible notice.
type Notification struct {
	ID        Handle    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	PostedAt  time.Time `json:"posted_at"`
}

// Center tracks posted notifications and mirrors them to push tokens.
type Center struct {
	bus  *eventbus.Bus
	expo *ExpoClient

	mu     sync.Mutex
	active map[Handle]Notification
	tokens []string

	pushWG  sync.WaitGroup
	pushSem chan struct{}

	metricPosted    atomic.Int64
	metricCancelled atomic.Int64
	metricPushFail  atomic.Int64
}

// NewCenter creates a notification center publishing on bus (may be nil).
func NewCenter(bus *eventbus.Bus, opts ...ExpoClientOption) *Center {
	return &Center{
		bus:     bus,
		expo:    NewExpoClient(opts...),
		active:  make(map[Handle]Notification),
		pushSem: make(chan struct{}, maxConcurrentPush),
	}
}

// SetPushTokens replaces the Expo tokens notified on post and cancel.
func (c *Center) SetPushTokens(tokens []string) {
	c.mu.Lock()
	c.tokens = slices.Clone(tokens)
	c.mu.Unlock()
}

// Post shows n and returns its handle. Push forwarding happens in the
// background and never fails the post.
func (c *Center) Post(ctx context.Context, n Notification) (Handle, error) {
	if n.ChannelID == "" {
		return "", fmt.Errorf("notification: post: channel id required")
	}
	n.ID = Handle(uuid.NewString())
	n.PostedAt = time.Now().UTC()

	c.mu.Lock()
	c.active[n.ID] = n
	c.mu.Unlock()

	c.metricPosted.Add(1)
	log.Printf("[Notification] posted %s on %s: %s", n.ID, n.ChannelID, n.Text)
	c.publish(ctx, n, eventbus.NotificationPosted)
	c.forward(n, n.Title, n.Text)
	return n.ID, nil
}

// Cancel removes a posted notification.
func (c *Center) Cancel(ctx context.Context, h Handle) error {
	c.mu.Lock()
	n, ok := c.active[h]
	delete(c.active, h)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}

	c.metricCancelled.Add(1)
	log.Printf("[Notification] cancelled %s", h)
	c.publish(ctx, n, eventbus.NotificationCancelled)
	c.forward(n, n.Title, "Server stopped")
	return nil
}

// Active returns the posted notifications ordered by post time.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	out := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		out = append(out, n)
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Notification) int { return a.PostedAt.Compare(b.PostedAt) })
	return out
}

// Start satisfies runtime.Service.
func (c *Center) Start(context.Context) error { return nil }

// Shutdown waits for in-flight push deliveries.
func (c *Center) Shutdown(ctx context.Context) error {
	err := eventbus.WaitForWorkers(ctx, &c.pushWG)
	log.Printf("[Notification] shutdown: posted=%d cancelled=%d push_failed=%d",
		c.metricPosted.Load(), c.metricCancelled.Load(), c.metricPushFail.Load())
	return err
}

func (c *Center) publish(ctx context.Context, n Notification, action eventbus.NotificationAction) {
	eventbus.Publish(ctx, c.bus, eventbus.Daemon.Notification, eventbus.SourceNotification, eventbus.NotificationEvent{
		ID:        string(n.ID),
		ChannelID: n.ChannelID,
		Title:     n.Title,
		Text:      n.Text,
		Action:    action,
	})
}

func (c *Center) forward(n Notification, title, body string) {
	c.mu.Lock()
	tokens := slices.Clone(c.tokens)
	c.mu.Unlock()
	if len(tokens) == 0 {
		return
	}

	messages := make([]ExpoMessage, 0, len(tokens))
	for _, tok := range tokens {
		messages = append(messages, ExpoMessage{
			To:        tok,
			Title:     title,
			Body:      body,
			Priority:  "normal",
			ChannelID: n.ChannelID,
			Data:      map[string]string{"notificationId": string(n.ID)},
		})
	}

	select {
	case c.pushSem <- struct{}{}:
	default:
		c.metricPushFail.Add(1)
		log.Printf("[Notification] push queue full, skipping %s", n.ID)
		return
	}
	c.pushWG.Add(1)
	go func() {
		defer c.pushWG.Done()
		defer func() { <-c.pushSem }()

		ctx, cancel := context.WithTimeout(context.Background(), 2*defaultHTTPTimeout)
		defer cancel()
		stale, err := c.expo.Send(ctx, messages)
		if err != nil {
			c.metricPushFail.Add(1)
			log.Printf("[Notification] push %s: %v", n.ID, err)
		}
		if len(stale) > 0 {
			c.dropTokens(stale)
		}
	}()
}

func (c *Center) dropTokens(stale []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = slices.DeleteFunc(c.tokens, func(tok string) bool {
		if slices.Contains(stale, tok) {
			log.Printf("[Notification] removed stale push token (DeviceNotRegistered)")
			return true
		}
		return false
	})
}
