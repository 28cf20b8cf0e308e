package client

import (
	"commhub/pkg/hub"
	"commhub/pkg/models"
)

// EventType discriminates the entries of the typed event stream.
type EventType string

const (
	// EventMessage carries a new_message push.
	EventMessage EventType = "message"
	// EventNotification carries a new_notification push.
	EventNotification EventType = "notification"
	// EventTyping carries an ephemeral typing signal.
	EventTyping EventType = "typing"
	// EventDisconnected reports a transport drop; reconnect is underway.
	EventDisconnected EventType = "disconnected"
	// EventReconnected reports a successful reconnect; rooms have been
	// re-joined and the caller should refetch missed records.
	EventReconnected EventType = "reconnected"
	// EventFallback reports reconnect exhaustion; the connection is dead
	// and the caller should poll over REST.
	EventFallback EventType = "fallback"
)

// Event is one entry of the connection's typed stream. Exactly the
// field matching Type is set.
type Event struct {
	Type          EventType
	Message       *models.Message
	Notification  *models.Notification
	Typing        *hub.TypingPayload
	TypingStopped bool
	Err           error
}
