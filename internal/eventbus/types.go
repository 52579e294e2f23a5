package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicDaemonLifecycle    Topic = "daemon.lifecycle"
	TopicToggleChanged      Topic = "toggle.changed"
	TopicMediaScan          Topic = "media.scan"
	TopicNotificationChange Topic = "notification.changed"
)

// Source describes which component produced an event.
type Source string

const (
	SourceController   Source = "controller"
	SourceToggle       Source = "toggle"
	SourceMediaIndex   Source = "media_index"
	SourceNotification Source = "notification"
	SourceUnknown      Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   any
}

// LifecycleEvent records a single lifecycle controller transition.
// States are carried as their wire names to keep this package dependency free.
type LifecycleEvent struct {
	From   string
	To     string
	Reason string
	// Expected is false when the transition was not requested by a caller
	// (engine exited on its own, bind failure detected after spawn).
	Expected bool
}

// ToggleEvent carries the user-facing projection after any lifecycle change.
type ToggleEvent struct {
	Enabled bool
	State   string
	Status  string
	Address string
	Reason  string
}

// MediaScanEvent summarises one media index synchronisation pass.
type MediaScanEvent struct {
	Dir        string
	Registered int
	Failed     int
	Diagnostic string
	Duration   time.Duration
}

// NotificationAction enumerates persistent notification changes.
type NotificationAction string

const (
	NotificationPosted    NotificationAction = "posted"
	NotificationCancelled NotificationAction = "cancelled"
)

// NotificationEvent reports a persistent notification being posted or cancelled.
type NotificationEvent struct {
	ID        string
	ChannelID string
	Title     string
	Text      string
	Action    NotificationAction
}

// Daemon groups the typed topic descriptors used by the daemon.
var Daemon = struct {
	Lifecycle    TopicDef[LifecycleEvent]
	Toggle       TopicDef[ToggleEvent]
	MediaScan    TopicDef[MediaScanEvent]
	Notification TopicDef[NotificationEvent]
}{
	Lifecycle:    NewTopicDef[LifecycleEvent](TopicDaemonLifecycle),
	Toggle:       NewTopicDef[ToggleEvent](TopicToggleChanged),
	MediaScan:    NewTopicDef[MediaScanEvent](TopicMediaScan),
	Notification: NewTopicDef[NotificationEvent](TopicNotificationChange),
}
