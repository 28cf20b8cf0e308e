package hub

import (
	"encoding/json"
	"fmt"

	"commhub/pkg/models"
)

// Wire event names. Client to server: authenticate, join_thread,
// leave_thread, send_message, user_typing, user_stopped_typing.
// Server to client: new_message, new_notification, ack, error.
const (
	EvtAuthenticate    = "authenticate"
	EvtJoinThread      = "join_thread"
	EvtLeaveThread     = "leave_thread"
	EvtSendMessage     = "send_message"
	EvtNewMessage      = "new_message"
	EvtNewNotification = "new_notification"
	EvtTyping          = "user_typing"
	EvtStoppedTyping   = "user_stopped_typing"
	EvtAck             = "ack"
	EvtError           = "error"
)

// Frame is the JSON envelope for every websocket event. Ref correlates a
// server ack or error with the client frame that caused it.
type Frame struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame with data marshaled in.
func NewFrame(event, ref string, v any) (*Frame, error) {
	f := &Frame{Event: event, Ref: ref}
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s frame: %w", event, err)
		}
		f.Data = b
	}
	return f, nil
}

// ThreadRef is the payload of join_thread / leave_thread.
type ThreadRef struct {
	ThreadID string `json:"thread_id"`
}

// SendMessagePayload is the payload of send_message. MessageID is the
// client-generated durable identity backing the optimistic insert.
type SendMessagePayload struct {
	ThreadID  string `json:"thread_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// TypingPayload is the payload of the ephemeral typing events. It has no
// durability and no delivery guarantee.
type TypingPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// AckPayload confirms a send_message with the durable record.
type AckPayload struct {
	Message *models.Message `json:"message,omitempty"`
}

// ErrorPayload reports an operation-local failure. The connection stays
// alive unless Fatal is set (authentication failures).
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}
