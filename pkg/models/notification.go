package models

import (
	"encoding/json"
	"fmt"
)

// NotificationType keys the payload union.
type NotificationType string

const (
	NotifCommunication NotificationType = "communication"
	NotifAnnouncement  NotificationType = "announcement"
	NotifSystem        NotificationType = "system"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// CommunicationPayload is carried by message-triggered notifications and
// weakly references the triggering thread and message.
type CommunicationPayload struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Preview   string `json:"preview,omitempty"`
}

// AnnouncementPayload is carried by portal-wide announcements.
type AnnouncementPayload struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Link  string `json:"link,omitempty"`
}

// SystemPayload is carried by operational notices.
type SystemPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Notification belongs to exactly one user and is mutated only by that
// user's read/display actions.
type Notification struct {
	ID     string           `json:"id"`
	UserID string           `json:"user_id"`
	Type   NotificationType `json:"type"`
	// Payload is the variant selected by Type; use the typed accessors.
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority Priority        `json:"priority,omitempty"`

	IsRead bool  `json:"is_read"`
	ReadTS int64 `json:"read_ts,omitempty"`
	// IsDisplayed marks "seen in a transient popup", distinct from read.
	IsDisplayed bool  `json:"is_displayed"`
	DisplayedTS int64 `json:"displayed_ts,omitempty"`

	CreatedTS int64 `json:"created_ts"`
	ExpiresTS int64 `json:"expires_ts,omitempty"`
}

// SetPayload marshals the variant matching n.Type into the notification.
func (n *Notification) SetPayload(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	n.Payload = b
	return nil
}

// Communication decodes the payload of a communication notification.
func (n *Notification) Communication() (CommunicationPayload, error) {
	var p CommunicationPayload
	if n.Type != NotifCommunication {
		return p, fmt.Errorf("notification %s is %q, not communication", n.ID, n.Type)
	}
	if err := json.Unmarshal(n.Payload, &p); err != nil {
		return p, fmt.Errorf("decode communication payload: %w", err)
	}
	return p, nil
}

// Announcement decodes the payload of an announcement notification.
func (n *Notification) Announcement() (AnnouncementPayload, error) {
	var p AnnouncementPayload
	if n.Type != NotifAnnouncement {
		return p, fmt.Errorf("notification %s is %q, not announcement", n.ID, n.Type)
	}
	if err := json.Unmarshal(n.Payload, &p); err != nil {
		return p, fmt.Errorf("decode announcement payload: %w", err)
	}
	return p, nil
}

// System decodes the payload of a system notification.
func (n *Notification) System() (SystemPayload, error) {
	var p SystemPayload
	if n.Type != NotifSystem {
		return p, fmt.Errorf("notification %s is %q, not system", n.ID, n.Type)
	}
	if err := json.Unmarshal(n.Payload, &p); err != nil {
		return p, fmt.Errorf("decode system payload: %w", err)
	}
	return p, nil
}
