package client

import (
	"sort"
	"sync"

	"commhub/pkg/models"
)

// Reconciler folds the three input streams a client sees, REST
// snapshots, live pushes and local optimistic inserts, into one
// consistent view: an ordered message list per thread, a notification
// list, and a single derived unread counter. All dedup is by durable
// identity, so the same record arriving twice, or arriving optimistic
// first and durable later, lands exactly once.
type Reconciler struct {
	mu      sync.Mutex
	threads map[string]*threadView
	notifs  map[string]*models.Notification
	// counted tracks which notification ids currently contribute to the
	// unread counter. One id moves the counter at most once in each
	// direction.
	counted map[string]bool
	unread  int
}

type threadView struct {
	order []string
	byID  map[string]*models.Message
}

// NewReconciler returns an empty view.
func NewReconciler() *Reconciler {
	return &Reconciler{
		threads: make(map[string]*threadView),
		notifs:  make(map[string]*models.Notification),
		counted: make(map[string]bool),
	}
}

// UpsertMessage folds one message in, from any stream. A known id is
// replaced in place, keeping its list position, which is how a durable
// push supersedes the optimistic entry it confirms. An unknown id is
// inserted in timestamp order.
func (rc *Reconciler) UpsertMessage(m *models.Message) {
	if m == nil || m.ID == "" || m.Thread == "" {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	tv, ok := rc.threads[m.Thread]
	if !ok {
		tv = &threadView{byID: make(map[string]*models.Message)}
		rc.threads[m.Thread] = tv
	}
	if _, known := tv.byID[m.ID]; known {
		tv.byID[m.ID] = m
		return
	}
	tv.byID[m.ID] = m
	// insert keeping ascending ts order; ties keep arrival order
	idx := sort.Search(len(tv.order), func(i int) bool {
		return tv.byID[tv.order[i]].TS > m.TS
	})
	tv.order = append(tv.order, "")
	copy(tv.order[idx+1:], tv.order[idx:])
	tv.order[idx] = m.ID
}

// ApplySnapshot folds a REST message listing in. Records already known
// from pushes or optimistic inserts are updated, not duplicated.
func (rc *Reconciler) ApplySnapshot(msgs []*models.Message) {
	for _, m := range msgs {
		rc.UpsertMessage(m)
	}
}

// Messages returns the thread's messages in timestamp order.
func (rc *Reconciler) Messages(threadID string) []*models.Message {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	tv, ok := rc.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]*models.Message, 0, len(tv.order))
	for _, id := range tv.order {
		out = append(out, tv.byID[id])
	}
	return out
}

// HasMessage reports whether the durable identity is already in the
// view.
func (rc *Reconciler) HasMessage(threadID, msgID string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	tv, ok := rc.threads[threadID]
	if !ok {
		return false
	}
	_, known := tv.byID[msgID]
	return known
}

// ObserveNotification folds one notification record in, from any
// stream. The unread counter increments exactly once, at the first
// observation of the record in unread state; observing the same id
// again, from the same or another stream, does not move the counter. A
// record observed flipping to read decrements once.
func (rc *Reconciler) ObserveNotification(n *models.Notification) {
	if n == nil || n.ID == "" {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, known := rc.notifs[n.ID]
	rc.notifs[n.ID] = n
	switch {
	case !known && !n.IsRead:
		rc.unread++
		rc.counted[n.ID] = true
	case known && n.IsRead && rc.counted[n.ID]:
		rc.unread--
		rc.counted[n.ID] = false
	case !known && n.IsRead:
		rc.counted[n.ID] = false
	}
}

// Notifications returns the known notifications, newest first.
func (rc *Reconciler) Notifications() []*models.Notification {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]*models.Notification, 0, len(rc.notifs))
	for _, n := range rc.notifs {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS > out[j].CreatedTS })
	return out
}

// Unread is the derived unread counter.
func (rc *Reconciler) Unread() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.unread
}

// MarkNotificationRead decrements the counter optimistically, then runs
// confirm (the store call). A confirm failure rolls the decrement back
// so the counter never drifts from the durable state.
func (rc *Reconciler) MarkNotificationRead(id string, confirm func(id string) (*models.Notification, error)) error {
	rc.mu.Lock()
	wasCounted := rc.counted[id]
	if wasCounted {
		rc.unread--
		rc.counted[id] = false
	}
	rc.mu.Unlock()

	n, err := confirm(id)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err != nil {
		if wasCounted {
			rc.unread++
			rc.counted[id] = true
		}
		return err
	}
	if n != nil {
		rc.notifs[n.ID] = n
	}
	return nil
}
