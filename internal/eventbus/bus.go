package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Observer is called synchronously for every published envelope.
type Observer interface {
	OnPublish(env Envelope)
}

// Metrics is a point-in-time view of bus counters.
type Metrics struct {
	PublishTotal uint64
	DroppedTotal uint64
}

// Bus routes envelopes to per-topic subscribers. A nil *Bus is valid: it
// accepts publishes and hands out closed subscriptions.
type Bus struct {
	logger    *log.Logger
	buffers   map[Topic]int
	overrides map[Topic]DeliveryPolicy

	mu        sync.RWMutex
	topics    map[Topic]map[uint64]*Subscription
	observers []Observer
	nextID    atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the default channel size for subscribers of topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		b.buffers[topic] = max(size, 1)
	}
}

// WithTopicPolicy overrides the delivery policy for topic.
func WithTopicPolicy(topic Topic, policy DeliveryPolicy) BusOption {
	return func(b *Bus) {
		b.overrides[topic] = policy
	}
}

// New constructs a bus with the daemon's default topic buffers.
func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger: log.Default(),
		buffers: map[Topic]int{
			TopicDaemonLifecycle:    64,
			TopicToggleChanged:      64,
			TopicMediaScan:          16,
			TopicNotificationChange: 16,
		},
		overrides: make(map[Topic]DeliveryPolicy),
		topics:    make(map[Topic]map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddObserver registers an observer. Observers must not block.
func (b *Bus) AddObserver(o Observer) {
	if b == nil || o == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

// Metrics returns publish and drop counters.
func (b *Bus) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	return Metrics{
		PublishTotal: b.published.Load(),
		DroppedTotal: b.dropped.Load(),
	}
}

// Publish stamps env and fans it out to the topic's subscribers.
// Prefer the typed Publish with a TopicDef.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil || env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, o := range b.observers {
		o.OnPublish(env)
	}
	for _, sub := range b.topics[env.Topic] {
		sub.deliver(ctx, env)
	}
}

// Subscribe registers a raw subscriber for topic.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		return closedSubscription()
	}

	cfg := subscriptionConfig{bufferSize: max(b.buffers[topic], 1)}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		bus:    b,
		topic:  topic,
		id:     b.nextID.Add(1),
		name:   cfg.name,
		policy: policyFor(topic, b.overrides),
		ch:     make(chan Envelope, cfg.bufferSize),
		done:   make(chan struct{}),
	}
	if sub.policy.Strategy == StrategyBacklog {
		sub.queue = newBacklog(sub.policy.Backlog)
		go sub.queue.pump(sub.ch)
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*Subscription)
	}
	b.topics[topic][sub.id] = sub
	b.mu.Unlock()

	if cfg.ctx != nil {
		context.AfterFunc(cfg.ctx, sub.Close)
	}
	return sub
}

// Shutdown closes every subscription.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		for _, sub := range subs {
			sub.finish()
		}
		delete(b.topics, topic)
	}
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	bufferSize int
	name       string
	ctx        context.Context
}

// WithSubscriptionBuffer overrides the channel buffer for a subscription.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithSubscriptionName labels the subscription in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext closes the subscription when ctx is cancelled.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.ctx = ctx
	}
}

// Subscription is one consumer of a topic.
type Subscription struct {
	bus    *Bus
	topic  Topic
	id     uint64
	name   string
	policy DeliveryPolicy
	ch     chan Envelope
	done   chan struct{}
	queue  *backlog

	closed  atomic.Bool
	dropped atomic.Uint64
}

func closedSubscription() *Subscription {
	sub := &Subscription{ch: make(chan Envelope), done: make(chan struct{})}
	sub.finish()
	return sub
}

// C exposes the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	if s.closed.Load() {
		return
	}
	if s.bus == nil {
		s.finish()
		return
	}
	// The write lock guarantees no publisher is mid-send on s.ch.
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.topics[s.topic], s.id)
	s.finish()
}

// finish closes the channel once. Callers hold the bus write lock.
func (s *Subscription) finish() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.queue != nil {
		s.queue.halt()
	}
	close(s.done)
	close(s.ch)
}

func (s *Subscription) deliver(ctx context.Context, env Envelope) {
	if s.closed.Load() || ctx.Err() != nil {
		return
	}

	// Backlog subscriptions always go through the queue; a direct send
	// could overtake events still waiting in it.
	if s.queue != nil {
		if !s.queue.enqueue(env) {
			s.recordDrop("backlog-full")
		}
		return
	}

	select {
	case s.ch <- env:
		return
	default:
	}

	if s.policy.Strategy == StrategyDropNewest {
		s.recordDrop("drop-newest")
		return
	}
	select {
	case <-s.ch:
		s.recordDrop("drop-oldest")
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.recordDrop("drop-current")
	}
}

func (s *Subscription) recordDrop(reason string) {
	n := s.dropped.Add(1)
	if s.bus == nil {
		return
	}
	s.bus.dropped.Add(1)
	name := s.name
	if name == "" {
		name = "subscription"
	}
	s.bus.logger.Printf("[EventBus] dropped event #%d for %s on topic %s (%s)", n, name, s.topic, reason)
}
