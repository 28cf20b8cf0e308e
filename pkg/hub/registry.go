package hub

import (
	"sync"

	"commhub/pkg/faults"
	"commhub/pkg/logger"
	"commhub/pkg/store"
)

// Registry maps thread rooms and per-user personal channels to live
// sessions. Rooms are granular: resolve on one room never contends with
// membership churn on another. An empty room is the normal offline-
// recipient case, not an error.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	users map[string]map[*Session]struct{}
}

type room struct {
	mu      sync.RWMutex
	members map[*Session]struct{}
	// dead marks a room already removed from the registry map. A join
	// that fetched the room before the removal must retry on a fresh
	// room or its session would be invisible to Resolve.
	dead bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		users: make(map[string]map[*Session]struct{}),
	}
}

// Register adds a session's personal channel. Called once per connection
// after authentication.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[s.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		r.users[s.UserID] = set
	}
	set[s] = struct{}{}
	sessionsActive.Inc()
}

// Join admits a session into a thread room. Join is authorization
// checked: the session's user must be a participant of the thread, so a
// room can never leak events to outsiders.
func (r *Registry) Join(s *Session, threadID string) error {
	t, err := store.GetThread(threadID)
	if err != nil {
		return err
	}
	if !t.HasParticipant(s.UserID) {
		logger.Warn("join_rejected", "thread", threadID, "user", s.UserID)
		return faults.Authorizationf("user %s is not a participant of thread %s", s.UserID, threadID)
	}
	for {
		rm := r.roomFor(threadID, true)
		rm.mu.Lock()
		if rm.dead {
			// lost a race with the last member leaving; the registry no
			// longer knows this room object
			rm.mu.Unlock()
			continue
		}
		rm.members[s] = struct{}{}
		rm.mu.Unlock()
		break
	}
	s.trackJoin(threadID)
	logger.Debug("room_joined", "thread", threadID, "session", s.ID, "user", s.UserID)
	return nil
}

// Leave removes a session from a thread room. It cancels no in-flight
// delivery; it only stops future pushes for the room.
func (r *Registry) Leave(s *Session, threadID string) {
	if rm := r.roomFor(threadID, false); rm != nil {
		rm.mu.Lock()
		delete(rm.members, s)
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			r.dropRoomIfEmpty(threadID)
		}
	}
	s.trackLeave(threadID)
}

// Resolve returns a snapshot of the sessions currently in the thread's
// room. The snapshot is safe to iterate while membership changes.
func (r *Registry) Resolve(threadID string) []*Session {
	rm := r.roomFor(threadID, false)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*Session, 0, len(rm.members))
	for s := range rm.members {
		out = append(out, s)
	}
	return out
}

// Personal returns a snapshot of the sessions bound to userID.
func (r *Registry) Personal(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Drop tears a session out of its personal channel and every room it
// joined. Called on disconnect; server-side membership does not survive
// the connection.
func (r *Registry) Drop(s *Session) {
	for _, threadID := range s.joinedRooms() {
		r.Leave(s, threadID)
	}
	r.mu.Lock()
	if set, ok := r.users[s.UserID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			sessionsActive.Dec()
		}
		if len(set) == 0 {
			delete(r.users, s.UserID)
		}
	}
	r.mu.Unlock()
}

func (r *Registry) roomFor(threadID string, create bool) *room {
	r.mu.RLock()
	rm := r.rooms[threadID]
	r.mu.RUnlock()
	if rm != nil || !create {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[threadID]; rm == nil {
		rm = &room{members: make(map[*Session]struct{})}
		r.rooms[threadID] = rm
	}
	return rm
}

// dropRoomIfEmpty removes the room while holding both locks so the
// emptiness check and the map removal are one atomic step against Join.
func (r *Registry) dropRoomIfEmpty(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm := r.rooms[threadID]; rm != nil {
		rm.mu.Lock()
		if len(rm.members) == 0 {
			rm.dead = true
			delete(r.rooms, threadID)
		}
		rm.mu.Unlock()
	}
}

// RoomSize reports how many sessions a room currently holds.
func (r *Registry) RoomSize(threadID string) int {
	rm := r.roomFor(threadID, false)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}
