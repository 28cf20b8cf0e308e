package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"commhub/pkg/faults"
	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/utils"

	"github.com/cockroachdb/pebble"
)

const previewLen = 120

func msgIndexKey(msgID string) []byte {
	return []byte("msgid:" + msgID)
}

func msgVersionKey(msgID string, ts int64) []byte {
	return []byte("version:msg:" + msgID + ":" + orderedSuffix(ts))
}

// AppendOptions carries the optional fields of an append.
type AppendOptions struct {
	// ID lets the caller supply the durable identity up front (client
	// generated ids make optimistic inserts reconcilable). Empty means
	// the store assigns one.
	ID      string
	Type    models.MessageType
	ReplyTo string
}

// AppendMessage appends a message to a thread. The sender must be a
// current participant and the thread must be active. The message record
// and the thread's denormalized lastMessage fields and unread counters
// commit in a single batch: both succeed or neither does.
func AppendMessage(threadID, senderID, content string, opts AppendOptions) (*models.Message, error) {
	if db == nil {
		return nil, errNotOpen
	}
	if content == "" {
		return nil, fmt.Errorf("message content must not be empty")
	}
	unlock := lockThread(threadID)
	defer unlock()
	t, err := GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, faults.NotFoundf("thread %s is deleted", threadID)
	}
	msgType := opts.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	if msgType != models.MessageSystem && !t.HasParticipant(senderID) {
		return nil, faults.Authorizationf("sender %s is not a participant of thread %s", senderID, threadID)
	}
	if opts.ReplyTo != "" {
		parent, err := GetMessage(opts.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("reply_to: %w", err)
		}
		if parent.Thread != threadID {
			return nil, fmt.Errorf("reply_to message %s belongs to another thread", opts.ReplyTo)
		}
	}

	id := opts.ID
	if id == "" {
		id = utils.GenMessageID()
	}
	// duplicate-identity writes are rejected idempotently
	if _, err := getRaw(msgIndexKey(id)); err == nil {
		return nil, faults.Conflictf("message %s", id)
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return nil, err
	}

	ts := nowNS()
	if ts < t.LastMessageAt {
		// clock went backwards; lastMessageAt must not decrease
		ts = t.LastMessageAt
	}
	m := &models.Message{
		ID:      id,
		Thread:  threadID,
		Sender:  senderID,
		Content: content,
		Type:    msgType,
		ReplyTo: opts.ReplyTo,
		TS:      ts,
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	primary := []byte("thread:" + threadID + ":msg:" + orderedSuffix(ts))
	t.LastMessage = preview(content)
	t.LastMessageAt = ts
	t.LastMessageBy = senderID
	t.UpdatedTS = ts
	for _, p := range t.Participants {
		if p == senderID {
			continue
		}
		t.ParticipantState(p).UnreadCount++
	}
	tdata, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal thread: %w", err)
	}

	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Set(primary, data, nil); err != nil {
		return nil, err
	}
	if err := batch.Set(msgIndexKey(id), primary, nil); err != nil {
		return nil, err
	}
	if err := batch.Set(msgVersionKey(id, ts), data, nil); err != nil {
		return nil, err
	}
	if err := batch.Set(threadMetaKey(threadID), tdata, nil); err != nil {
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", "thread", threadID, "id", id, "error", err)
		return nil, err
	}
	messagesAppended.Inc()
	logger.Info("message_appended", "thread", threadID, "id", id, "sender", senderID)
	return m, nil
}

// loadMessage resolves the id index and decodes the current record.
func loadMessage(msgID string) ([]byte, models.Message, error) {
	var m models.Message
	primary, err := getRaw(msgIndexKey(msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, m, faults.NotFoundf("message %s", msgID)
		}
		return nil, m, err
	}
	v, err := getRaw(primary)
	if err != nil {
		return nil, m, fmt.Errorf("message %s index points at missing record: %w", msgID, err)
	}
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, m, fmt.Errorf("invalid message record: %w", err)
	}
	return primary, m, nil
}

// GetMessage returns the current version of a message by durable id.
func GetMessage(msgID string) (*models.Message, error) {
	if db == nil {
		return nil, errNotOpen
	}
	_, m, err := loadMessage(msgID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a thread's messages in append order. beforeTS > 0
// restricts to messages older than the cursor; limit > 0 keeps the most
// recent limit entries of the window.
func ListMessages(threadID string, limit int, beforeTS int64, includeDeleted bool) ([]*models.Message, error) {
	if db == nil {
		return nil, errNotOpen
	}
	prefix := []byte("thread:" + threadID + ":msg:")
	var out []*models.Message
	err := scanPrefix(prefix, func(k, v []byte) bool {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			logger.Warn("skip_invalid_message", "key", string(k), "error", err)
			return true
		}
		if beforeTS > 0 && m.TS >= beforeTS {
			return true
		}
		if m.Deleted && !includeDeleted {
			return true
		}
		out = append(out, &m)
		return true
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListMessageVersions returns all stored versions of a message in
// chronological order.
func ListMessageVersions(msgID string) ([]*models.Message, error) {
	if db == nil {
		return nil, errNotOpen
	}
	prefix := []byte("version:msg:" + msgID + ":")
	var out []*models.Message
	err := scanPrefix(prefix, func(_, v []byte) bool {
		var m models.Message
		if json.Unmarshal(v, &m) == nil {
			out = append(out, &m)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, faults.NotFoundf("message %s", msgID)
	}
	return out, nil
}

// MarkMessageRead appends a read receipt for userID. Once a user is
// present in readBy the call is a no-op; the set only grows.
func MarkMessageRead(msgID, userID string) (*models.Message, error) {
	if db == nil {
		return nil, errNotOpen
	}
	primary, m, err := loadMessage(msgID)
	if err != nil {
		return nil, err
	}
	// the record was read without the thread lock; re-read under it so a
	// concurrent tombstone or receipt is not overwritten
	unlock := lockThread(m.Thread)
	defer unlock()
	if primary, m, err = loadMessage(msgID); err != nil {
		return nil, err
	}
	t, err := GetThread(m.Thread)
	if err != nil {
		return nil, err
	}
	if !t.HasParticipant(userID) {
		return nil, faults.Authorizationf("user %s is not a participant of thread %s", userID, m.Thread)
	}
	if m.ReadByUser(userID) {
		return &m, nil
	}
	now := nowNS()
	m.ReadBy = append(m.ReadBy, models.ReadReceipt{UserID: userID, ReadTS: now})
	data, err := json.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Set(primary, data, nil); err != nil {
		return nil, err
	}
	if err := batch.Set(msgVersionKey(msgID, now), data, nil); err != nil {
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, err
	}
	readReceipts.Inc()
	logger.Debug("message_marked_read", "id", msgID, "user", userID)
	return &m, nil
}

// SoftDeleteMessage tombstones a message. Only the sender may delete its
// own message. The owning thread's lastMessage preview is recomputed so
// it always reflects the most recent non-deleted message.
func SoftDeleteMessage(msgID, actor string) error {
	if db == nil {
		return errNotOpen
	}
	primary, m, err := loadMessage(msgID)
	if err != nil {
		return err
	}
	// re-read under the thread lock; the preview recompute below rewrites
	// the thread meta and must not race an append
	unlock := lockThread(m.Thread)
	defer unlock()
	if primary, m, err = loadMessage(msgID); err != nil {
		return err
	}
	if m.Sender != actor {
		return faults.Authorizationf("user %s did not send message %s", actor, msgID)
	}
	if m.Deleted {
		return nil
	}
	now := nowNS()
	m.Deleted = true
	m.DeletedTS = now
	m.DeletedBy = actor
	data, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Set(primary, data, nil); err != nil {
		return err
	}
	if err := batch.Set(msgVersionKey(msgID, now), data, nil); err != nil {
		return err
	}

	// recompute the thread preview from what remains
	t, err := GetThread(m.Thread)
	if err == nil && t.LastMessageAt == m.TS {
		var last *models.Message
		scanErr := scanPrefix([]byte("thread:"+m.Thread+":msg:"), func(_, raw []byte) bool {
			var cand models.Message
			if json.Unmarshal(raw, &cand) == nil && !cand.Deleted && cand.ID != msgID {
				last = &cand
			}
			return true
		})
		if scanErr == nil {
			if last != nil {
				t.LastMessage = preview(last.Content)
				t.LastMessageAt = last.TS
				t.LastMessageBy = last.Sender
			} else {
				t.LastMessage = ""
				t.LastMessageAt = 0
				t.LastMessageBy = ""
			}
			t.UpdatedTS = now
			if tb, merr := json.Marshal(t); merr == nil {
				_ = batch.Set(threadMetaKey(t.ID), tb, nil)
			}
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("message_soft_delete_failed", "id", msgID, "error", err)
		return err
	}
	logger.Info("message_soft_deleted", "id", msgID, "actor", actor)
	return nil
}

// preview truncates on a rune boundary so the stored lastMessage text
// stays valid UTF-8.
func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
