package eventbus

// DeliveryStrategy decides what happens when a subscriber falls behind.
type DeliveryStrategy string

const (
	// StrategyDropOldest evicts the oldest queued event to make room.
	StrategyDropOldest DeliveryStrategy = "drop-oldest"
	// StrategyDropNewest discards the incoming event.
	StrategyDropNewest DeliveryStrategy = "drop-newest"
	// StrategyBacklog queues events in order behind the channel, up to a cap.
	StrategyBacklog DeliveryStrategy = "backlog"
)

// DeliveryPolicy controls how a topic handles backpressure.
type DeliveryPolicy struct {
	Strategy DeliveryStrategy
	// Backlog caps the ordered queue for StrategyBacklog (0 means defaultBacklog).
	Backlog int
}

const defaultBacklog = 256

var defaultPolicy = DeliveryPolicy{Strategy: StrategyDropOldest}

var topicPolicies = map[Topic]DeliveryPolicy{
	// A lost transition would leave the toggle out of sync with the engine.
	TopicDaemonLifecycle: {Strategy: StrategyBacklog, Backlog: defaultBacklog},
	// Toggle consumers render the latest view only.
	TopicToggleChanged: {Strategy: StrategyDropOldest},
	// Diagnostics.
	TopicMediaScan:          {Strategy: StrategyDropNewest},
	TopicNotificationChange: {Strategy: StrategyDropNewest},
}

func policyFor(topic Topic, overrides map[Topic]DeliveryPolicy) DeliveryPolicy {
	if p, ok := overrides[topic]; ok {
		return p
	}
	if p, ok := topicPolicies[topic]; ok {
		return p
	}
	return defaultPolicy
}
