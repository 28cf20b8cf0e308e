package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"commhub/pkg/faults"
	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/utils"

	"github.com/cockroachdb/pebble"
)

func notifIndexKey(id string) []byte {
	return []byte("notifid:" + id)
}

// SaveNotification persists a new notification for its owning user.
// Duplicate identities are rejected idempotently.
func SaveNotification(n *models.Notification) error {
	if db == nil {
		return errNotOpen
	}
	if n.UserID == "" {
		return fmt.Errorf("notification user id must not be empty")
	}
	if n.ID == "" {
		n.ID = utils.GenNotificationID()
	}
	if n.Type == "" {
		n.Type = models.NotifSystem
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if n.CreatedTS == 0 {
		n.CreatedTS = nowNS()
	}
	if _, err := getRaw(notifIndexKey(n.ID)); err == nil {
		return faults.Conflictf("notification %s", n.ID)
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	primary := []byte("notif:" + n.UserID + ":" + orderedSuffix(n.CreatedTS))
	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Set(primary, data, nil); err != nil {
		return err
	}
	if err := batch.Set(notifIndexKey(n.ID), primary, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("save_notification_failed", "id", n.ID, "user", n.UserID, "error", err)
		return err
	}
	notificationsCreated.Inc()
	logger.Debug("notification_saved", "id", n.ID, "user", n.UserID, "type", string(n.Type))
	return nil
}

// GetNotification returns a notification by durable id.
func GetNotification(id string) (*models.Notification, error) {
	if db == nil {
		return nil, errNotOpen
	}
	primary, err := getRaw(notifIndexKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, faults.NotFoundf("notification %s", id)
		}
		return nil, err
	}
	v, err := getRaw(primary)
	if err != nil {
		return nil, fmt.Errorf("notification %s index points at missing record: %w", id, err)
	}
	var n models.Notification
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, fmt.Errorf("invalid notification record: %w", err)
	}
	return &n, nil
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	Type       models.NotificationType
	UnreadOnly bool
	Limit      int
	// BeforeTS restricts to notifications created before the cursor.
	BeforeTS int64
}

// ListNotifications returns userID's notifications in creation order.
func ListNotifications(userID string, f NotificationFilter) ([]*models.Notification, error) {
	if db == nil {
		return nil, errNotOpen
	}
	prefix := []byte("notif:" + userID + ":")
	var out []*models.Notification
	err := scanPrefix(prefix, func(k, v []byte) bool {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			logger.Warn("skip_invalid_notification", "key", string(k), "error", err)
			return true
		}
		if f.Type != "" && n.Type != f.Type {
			return true
		}
		if f.UnreadOnly && n.IsRead {
			return true
		}
		if f.BeforeTS > 0 && n.CreatedTS >= f.BeforeTS {
			return true
		}
		out = append(out, &n)
		return true
	})
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// CountUnreadNotifications returns userID's number of unread records.
func CountUnreadNotifications(userID string) (int, error) {
	ns, err := ListNotifications(userID, NotificationFilter{UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	return len(ns), nil
}

// mutateNotification loads id, verifies ownership, applies fn and writes
// the record back in place. fn returning false skips the write.
func mutateNotification(id, userID string, fn func(n *models.Notification) bool) (*models.Notification, error) {
	primary, err := getRaw(notifIndexKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, faults.NotFoundf("notification %s", id)
		}
		return nil, err
	}
	v, err := getRaw(primary)
	if err != nil {
		return nil, fmt.Errorf("notification %s index points at missing record: %w", id, err)
	}
	var n models.Notification
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, fmt.Errorf("invalid notification record: %w", err)
	}
	if n.UserID != userID {
		return nil, faults.Authorizationf("notification %s does not belong to user %s", id, userID)
	}
	if !fn(&n) {
		return &n, nil
	}
	data, err := json.Marshal(&n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	if err := db.Set(primary, data, pebble.Sync); err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkNotificationRead flips isRead once; repeating it is a no-op.
func MarkNotificationRead(id, userID string) (*models.Notification, error) {
	if db == nil {
		return nil, errNotOpen
	}
	return mutateNotification(id, userID, func(n *models.Notification) bool {
		if n.IsRead {
			return false
		}
		n.IsRead = true
		n.ReadTS = nowNS()
		return true
	})
}

// MarkNotificationDisplayed records that the record was shown in a
// transient popup without being marked read.
func MarkNotificationDisplayed(id, userID string) (*models.Notification, error) {
	if db == nil {
		return nil, errNotOpen
	}
	return mutateNotification(id, userID, func(n *models.Notification) bool {
		if n.IsDisplayed {
			return false
		}
		n.IsDisplayed = true
		n.DisplayedTS = nowNS()
		return true
	})
}

// MarkAllNotificationsRead sets isRead on every unread record owned by
// userID and returns how many records changed.
func MarkAllNotificationsRead(userID string) (int, error) {
	if db == nil {
		return 0, errNotOpen
	}
	now := nowNS()
	batch := db.NewBatch()
	defer batch.Close()
	changed := 0
	prefix := []byte("notif:" + userID + ":")
	err := scanPrefix(prefix, func(k, v []byte) bool {
		var n models.Notification
		if json.Unmarshal(v, &n) != nil || n.IsRead {
			return true
		}
		n.IsRead = true
		n.ReadTS = now
		if data, merr := json.Marshal(&n); merr == nil {
			_ = batch.Set(k, data, nil)
			changed++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if changed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("notifications_marked_all_read", "user", userID, "count", changed)
	return changed, nil
}

// DeleteNotification removes a record and its id index entry. Only the
// owner may delete it.
func DeleteNotification(id, userID string) error {
	if db == nil {
		return errNotOpen
	}
	primary, err := getRaw(notifIndexKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return faults.NotFoundf("notification %s", id)
		}
		return err
	}
	v, err := getRaw(primary)
	if err != nil {
		return fmt.Errorf("notification %s index points at missing record: %w", id, err)
	}
	var n models.Notification
	if err := json.Unmarshal(v, &n); err != nil {
		return fmt.Errorf("invalid notification record: %w", err)
	}
	if n.UserID != userID {
		return faults.Authorizationf("notification %s does not belong to user %s", id, userID)
	}
	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(primary, nil); err != nil {
		return err
	}
	if err := batch.Delete(notifIndexKey(id), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// PurgeExpiredNotifications deletes records whose expiry passed. batch
// limits how many are removed per call; dryRun only counts. Returns the
// number of records purged (or that would be).
func PurgeExpiredNotifications(nowTS int64, batchSize int, dryRun bool) (int, error) {
	if db == nil {
		return 0, errNotOpen
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	type victim struct {
		key []byte
		id  string
	}
	var victims []victim
	err := scanPrefix([]byte("notif:"), func(k, v []byte) bool {
		var n models.Notification
		if json.Unmarshal(v, &n) != nil {
			return true
		}
		if n.ExpiresTS > 0 && n.ExpiresTS <= nowTS {
			victims = append(victims, victim{key: k, id: n.ID})
		}
		return len(victims) < batchSize
	})
	if err != nil {
		return 0, err
	}
	if dryRun || len(victims) == 0 {
		return len(victims), nil
	}
	batch := db.NewBatch()
	defer batch.Close()
	for _, vc := range victims {
		_ = batch.Delete(vc.key, nil)
		_ = batch.Delete(notifIndexKey(vc.id), nil)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	notificationsPurged.Add(float64(len(victims)))
	logger.Info("notifications_purged", "count", len(victims))
	return len(victims), nil
}
