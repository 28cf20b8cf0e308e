package models

// ThreadType distinguishes two-party threads from group threads.
type ThreadType string

const (
	ThreadDirect ThreadType = "direct"
	ThreadGroup  ThreadType = "group"
)

// ParticipantState is per-participant thread state. UnreadCount and the
// denormalized lastMessage fields on Thread are mutated only through the
// store's atomic append path.
type ParticipantState struct {
	UnreadCount int `json:"unread_count"`
	// Muted suppresses notification creation for this participant.
	Muted      bool  `json:"muted,omitempty"`
	LastReadTS int64 `json:"last_read_ts,omitempty"`
}

type Thread struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	// Participants is the fixed membership set; never empty.
	Participants []string   `json:"participants"`
	Type         ThreadType `json:"type"`

	// Denormalized preview of the most recent non-deleted message.
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	LastMessageBy string `json:"last_message_by,omitempty"`

	// State holds per-participant counters and settings keyed by user id.
	State map[string]*ParticipantState `json:"state,omitempty"`

	// Active is the soft-delete marker; an inactive thread accepts no
	// further appends.
	Active bool `json:"active"`

	CreatedTS int64 `json:"created_ts,omitempty"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}

// HasParticipant reports whether userID belongs to the thread.
func (t *Thread) HasParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ParticipantState returns the state record for userID, creating an
// empty one on first access.
func (t *Thread) ParticipantState(userID string) *ParticipantState {
	if t.State == nil {
		t.State = make(map[string]*ParticipantState)
	}
	ps, ok := t.State[userID]
	if !ok {
		ps = &ParticipantState{}
		t.State[userID] = ps
	}
	return ps
}
