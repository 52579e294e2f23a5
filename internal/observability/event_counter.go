package observability

import (
	"maps"
	"sync"

	"github.com/dexft/dexft/internal/eventbus"
)

// EventCounter tallies published envelopes per topic. Register it with
// Bus.AddObserver.
type EventCounter struct {
	mu     sync.Mutex
	counts map[eventbus.Topic]uint64
}

func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[eventbus.Topic]uint64)}
}

// OnPublish implements eventbus.Observer.
func (c *EventCounter) OnPublish(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	c.mu.Lock()
	c.counts[env.Topic]++
	c.mu.Unlock()
}

// Snapshot copies the current tallies.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}
