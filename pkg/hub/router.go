package hub

import (
	"sync"

	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/store"
)

// Router fans a durably-written event out to room members and personal
// channels. The durable write is the correctness anchor: it commits
// before any push starts, and push failures never propagate back; an
// unreachable recipient converges through its next REST fetch.
type Router struct {
	reg *Registry

	// threadMu serializes append+fanout per thread so one recipient's
	// stream never sees pushes out of durable commit order.
	mu       sync.Mutex
	threadMu map[string]*sync.Mutex
}

// NewRouter returns a router over the given registry.
func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg, threadMu: make(map[string]*sync.Mutex)}
}

// Registry exposes the membership registry the router broadcasts through.
func (rt *Router) Registry() *Registry { return rt.reg }

func (rt *Router) lockThread(threadID string) func() {
	rt.mu.Lock()
	m, ok := rt.threadMu[threadID]
	if !ok {
		m = &sync.Mutex{}
		rt.threadMu[threadID] = m
	}
	rt.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// PublishMessage appends the message durably, then broadcasts it to the
// thread room (excluding the originating session) and creates + pushes a
// notification for every other participant whose settings allow it.
// origin is nil for REST-originated sends.
func (rt *Router) PublishMessage(threadID, senderID, content string, opts store.AppendOptions, origin *Session) (*models.Message, error) {
	unlock := rt.lockThread(threadID)
	defer unlock()

	msg, err := store.AppendMessage(threadID, senderID, content, opts)
	if err != nil {
		// push without durability is disallowed; nothing was broadcast
		return nil, err
	}

	frame, ferr := NewFrame(EvtNewMessage, "", msg)
	if ferr == nil {
		for _, sess := range rt.reg.Resolve(threadID) {
			if sess == origin {
				// sender already holds local optimistic state
				continue
			}
			sess.Push(frame)
		}
	} else {
		logger.Error("broadcast_encode_failed", "thread", threadID, "error", ferr)
	}

	t, err := store.GetThread(threadID)
	if err != nil {
		logger.Error("notify_thread_lookup_failed", "thread", threadID, "error", err)
		return msg, nil
	}
	for _, p := range t.Participants {
		if p == senderID {
			continue
		}
		if ps, ok := t.State[p]; ok && ps.Muted {
			continue
		}
		rt.notifyParticipant(p, t, msg)
	}
	return msg, nil
}

// notifyParticipant writes the durable notification and pushes it on the
// user's personal channel. One triggering event produces exactly one
// notification per recipient; the unread counter is driven by the
// notification record, never by the room broadcast.
func (rt *Router) notifyParticipant(userID string, t *models.Thread, msg *models.Message) {
	n := &models.Notification{
		UserID:   userID,
		Type:     models.NotifCommunication,
		Priority: models.PriorityNormal,
	}
	if err := n.SetPayload(models.CommunicationPayload{
		ThreadID:  t.ID,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Preview:   t.LastMessage,
	}); err != nil {
		logger.Error("notification_payload_failed", "user", userID, "error", err)
		return
	}
	if err := store.SaveNotification(n); err != nil {
		logger.Error("notification_save_failed", "user", userID, "thread", t.ID, "error", err)
		return
	}
	frame, err := NewFrame(EvtNewNotification, "", n)
	if err != nil {
		return
	}
	for _, sess := range rt.reg.Personal(userID) {
		sess.Push(frame)
	}
}

// PublishNotification durably creates an arbitrary notification
// (announcements, system notices) and pushes it to the owner's personal
// channel.
func (rt *Router) PublishNotification(n *models.Notification) error {
	if err := store.SaveNotification(n); err != nil {
		return err
	}
	frame, err := NewFrame(EvtNewNotification, "", n)
	if err != nil {
		return err
	}
	for _, sess := range rt.reg.Personal(n.UserID) {
		sess.Push(frame)
	}
	return nil
}

// BroadcastTyping relays an ephemeral typing signal to the room,
// excluding the typist. No durability, no delivery guarantee.
func (rt *Router) BroadcastTyping(threadID, userID string, stopped bool, origin *Session) {
	event := EvtTyping
	if stopped {
		event = EvtStoppedTyping
	}
	frame, err := NewFrame(event, "", TypingPayload{ThreadID: threadID, UserID: userID})
	if err != nil {
		return
	}
	for _, sess := range rt.reg.Resolve(threadID) {
		if sess == origin {
			continue
		}
		sess.Push(frame)
	}
}
