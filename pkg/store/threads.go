package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"commhub/pkg/faults"
	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/utils"

	"github.com/cockroachdb/pebble"
)

func threadMetaKey(threadID string) []byte {
	return []byte("thread:" + threadID + ":meta")
}

// Thread metadata is a single record mutated by read-modify-write, so
// every path that rewrites it (append, mark-read, mute, soft delete,
// preview recompute) must hold the thread's lock or a concurrent append
// gets clobbered and lastMessageAt moves backwards.
var (
	threadLocksMu sync.Mutex
	threadLocks   = make(map[string]*sync.Mutex)
)

func lockThread(threadID string) func() {
	threadLocksMu.Lock()
	m, ok := threadLocks[threadID]
	if !ok {
		m = &sync.Mutex{}
		threadLocks[threadID] = m
	}
	threadLocksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// CreateThread persists a new thread. The participant set must be
// non-empty and must contain the creator.
func CreateThread(t *models.Thread) error {
	if db == nil {
		return errNotOpen
	}
	if len(t.Participants) == 0 {
		return fmt.Errorf("thread participants must not be empty")
	}
	if t.ID == "" {
		t.ID = utils.GenThreadID()
	}
	if t.Type == "" {
		if len(t.Participants) == 2 {
			t.Type = models.ThreadDirect
		} else {
			t.Type = models.ThreadGroup
		}
	}
	now := nowNS()
	if t.CreatedTS == 0 {
		t.CreatedTS = now
	}
	if t.UpdatedTS == 0 {
		t.UpdatedTS = t.CreatedTS
	}
	t.Active = true

	unlock := lockThread(t.ID)
	defer unlock()

	key := threadMetaKey(t.ID)
	if _, err := getRaw(key); err == nil {
		return faults.Conflictf("thread %s already exists", t.ID)
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := db.Set(key, b, pebble.Sync); err != nil {
		logger.Error("save_thread_failed", "thread", t.ID, "error", err)
		return err
	}
	logger.Info("thread_created", "thread", t.ID, "participants", len(t.Participants))
	return nil
}

// GetThread returns the thread metadata for threadID.
func GetThread(threadID string) (*models.Thread, error) {
	if db == nil {
		return nil, errNotOpen
	}
	v, err := getRaw(threadMetaKey(threadID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, faults.NotFoundf("thread %s", threadID)
		}
		return nil, err
	}
	var t models.Thread
	if err := json.Unmarshal(v, &t); err != nil {
		return nil, fmt.Errorf("invalid thread metadata: %w", err)
	}
	return &t, nil
}

// saveThread overwrites thread metadata. Only the append path and the
// read/delete paths below call it; nothing else mutates thread state.
func saveThread(t *models.Thread) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	return db.Set(threadMetaKey(t.ID), b, pebble.Sync)
}

// ListThreadsFor returns all active threads userID participates in,
// most recent activity first. limit <= 0 means no limit.
func ListThreadsFor(userID string, limit int) ([]*models.Thread, error) {
	if db == nil {
		return nil, errNotOpen
	}
	var out []*models.Thread
	err := scanPrefix([]byte("thread:"), func(k, v []byte) bool {
		if !isMetaKey(k) {
			return true
		}
		var t models.Thread
		if err := json.Unmarshal(v, &t); err != nil {
			logger.Warn("skip_invalid_thread_meta", "key", string(k), "error", err)
			return true
		}
		if !t.Active || !t.HasParticipant(userID) {
			return true
		}
		out = append(out, &t)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		if a == 0 {
			a = out[i].CreatedTS
		}
		if b == 0 {
			b = out[j].CreatedTS
		}
		return a > b
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isMetaKey(k []byte) bool {
	return len(k) > 5 && string(k[len(k)-5:]) == ":meta"
}

// MarkThreadRead resets userID's unread counter on the thread and
// records the read time. The caller must be a participant.
func MarkThreadRead(threadID, userID string) error {
	if db == nil {
		return errNotOpen
	}
	unlock := lockThread(threadID)
	defer unlock()
	t, err := GetThread(threadID)
	if err != nil {
		return err
	}
	if !t.HasParticipant(userID) {
		return faults.Authorizationf("user %s is not a participant of thread %s", userID, threadID)
	}
	ps := t.ParticipantState(userID)
	if ps.UnreadCount == 0 && ps.LastReadTS != 0 {
		// already caught up; keep the write path idempotent
		return nil
	}
	ps.UnreadCount = 0
	ps.LastReadTS = nowNS()
	if err := saveThread(t); err != nil {
		return err
	}
	logger.Debug("thread_marked_read", "thread", threadID, "user", userID)
	return nil
}

// SetThreadMuted flips notification suppression for userID on the
// thread. Muting only silences notifications; room broadcasts and
// unread counters are unaffected.
func SetThreadMuted(threadID, userID string, muted bool) error {
	if db == nil {
		return errNotOpen
	}
	unlock := lockThread(threadID)
	defer unlock()
	t, err := GetThread(threadID)
	if err != nil {
		return err
	}
	if !t.HasParticipant(userID) {
		return faults.Authorizationf("user %s is not a participant of thread %s", userID, threadID)
	}
	ps := t.ParticipantState(userID)
	if ps.Muted == muted {
		return nil
	}
	ps.Muted = muted
	t.UpdatedTS = nowNS()
	if err := saveThread(t); err != nil {
		return err
	}
	logger.Debug("thread_mute_changed", "thread", threadID, "user", userID, "muted", muted)
	return nil
}

// SoftDeleteThread marks the thread inactive and cascades a soft delete
// over its messages. Deleting an already-deleted thread is a no-op.
func SoftDeleteThread(threadID, actor string) error {
	if db == nil {
		return errNotOpen
	}
	unlock := lockThread(threadID)
	defer unlock()
	t, err := GetThread(threadID)
	if err != nil {
		return err
	}
	if !t.HasParticipant(actor) {
		return faults.Authorizationf("user %s is not a participant of thread %s", actor, threadID)
	}
	if !t.Active {
		return nil
	}
	now := nowNS()
	t.Active = false
	t.DeletedTS = now
	t.UpdatedTS = now

	batch := db.NewBatch()
	defer batch.Close()
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := batch.Set(threadMetaKey(threadID), b, nil); err != nil {
		return err
	}
	// cascade: every owned message gains a tombstone in the same batch
	prefix := []byte("thread:" + threadID + ":msg:")
	err = scanPrefix(prefix, func(k, v []byte) bool {
		var m models.Message
		if json.Unmarshal(v, &m) != nil || m.Deleted {
			return true
		}
		m.Deleted = true
		m.DeletedTS = now
		m.DeletedBy = actor
		nb, merr := json.Marshal(m)
		if merr != nil {
			return true
		}
		_ = batch.Set(k, nb, nil)
		return true
	})
	if err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("thread_soft_delete_failed", "thread", threadID, "error", err)
		return err
	}
	logger.Info("thread_soft_deleted", "thread", threadID, "actor", actor)
	return nil
}
