package eventbus

import (
	"context"
	"sync"
	"time"
)

// TopicDef binds a Topic to its payload type so publishers and subscribers
// cannot disagree about what travels on it.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef declares a typed topic.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the underlying topic name.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Publish sends payload on td. A nil bus is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	bus.Publish(ctx, Envelope{Topic: td.topic, Source: source, Payload: payload})
}

// TypedEnvelope is an Envelope whose payload has been asserted to T.
type TypedEnvelope[T any] struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   T
}

// TypedSubscription delivers only payloads of type T; anything else
// published on the topic is skipped.
type TypedSubscription[T any] struct {
	raw  *Subscription
	ch   chan TypedEnvelope[T]
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// SubscribeTo subscribes to td. On a nil bus the channel is already closed.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	ts := &TypedSubscription[T]{
		raw:  bus.Subscribe(td.topic, opts...),
		ch:   make(chan TypedEnvelope[T]),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go ts.forward()
	return ts
}

// C returns the typed event channel.
func (ts *TypedSubscription[T]) C() <-chan TypedEnvelope[T] {
	return ts.ch
}

// Close ends the subscription. It is safe to call more than once.
func (ts *TypedSubscription[T]) Close() {
	ts.once.Do(func() {
		close(ts.quit)
		ts.raw.Close()
		<-ts.done
	})
}

func (ts *TypedSubscription[T]) forward() {
	defer close(ts.done)
	defer close(ts.ch)
	for env := range ts.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		select {
		case ts.ch <- TypedEnvelope[T]{Topic: env.Topic, Timestamp: env.Timestamp, Source: env.Source, Payload: payload}:
		case <-ts.quit:
			return
		}
	}
}

// Consume hands each payload from sub to handler until ctx is done or the
// subscription closes. wg, when non-nil, is marked done on return.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(T)) {
	if wg != nil {
		defer wg.Done()
	}
	if sub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			handler(env.Payload)
		}
	}
}
