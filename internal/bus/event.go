package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter on prefixes such as "chat." or "sync.".
const (
	SessionStatusChanged = "session.status_changed"
	SessionSignedIn      = "session.signed_in"
	SessionSignedOut     = "session.signed_out"

	ChatAdded   = "chat.added"
	ChatUpdated = "chat.updated"
	ChatDeleted = "chat.deleted"

	MessageAdded         = "message.added"
	MessageStatusChanged = "message.status_changed"

	SyncStarted   = "sync.started"
	SyncCompleted = "sync.completed"
	SyncFailed    = "sync.failed"

	ConfigReloaded = "config.reloaded"
)

// Emit publishes an event of kind stamped with the current time. A nil bus
// drops it.
func (b *Bus) Emit(kind string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
