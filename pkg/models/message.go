package models

// MessageType separates user text from server-generated system entries
// (membership changes, thread tombstones).
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// ReadReceipt records one user's read of a message. A message's ReadBy
// set only grows and holds at most one receipt per user.
type ReadReceipt struct {
	UserID string `json:"user_id"`
	ReadTS int64  `json:"read_ts"`
}

type Message struct {
	ID      string      `json:"id"`
	Thread  string      `json:"thread"`
	Sender  string      `json:"sender,omitempty"`
	Content string      `json:"content,omitempty"`
	Type    MessageType `json:"type,omitempty"`
	// ReplyTo is a weak reference to another message in the same thread.
	ReplyTo string `json:"reply_to,omitempty"`
	TS      int64  `json:"ts"`

	ReadBy []ReadReceipt `json:"read_by,omitempty"`

	// Deleted flag; soft-delete implemented as an appended tombstone version.
	Deleted   bool   `json:"deleted,omitempty"`
	DeletedTS int64  `json:"deleted_ts,omitempty"`
	DeletedBy string `json:"deleted_by,omitempty"`
}

// ReadByUser reports whether userID already has a read receipt.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
