package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix ("queue.", "sync.", "network.", "message.").
const (
	KindQueueChanged     = "queue.changed"
	KindSyncCompleted    = "sync.completed"
	KindNetworkChanged   = "network.status_changed"
	KindMessageQueued    = "message.queued"
	KindMessageDelivered = "message.delivered"
	KindMessageFailed    = "message.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
