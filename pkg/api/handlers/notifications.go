package handlers

import (
	"encoding/json"
	"net/http"

	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/store"
	"commhub/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterNotifications registers notification routes on the versioned
// subrouter. All routes operate on the caller's own notifications;
// ownership is enforced in the store.
func RegisterNotifications(r *mux.Router) {
	r.HandleFunc("/notifications", publishNotification).Methods(http.MethodPost)
	r.HandleFunc("/notifications", listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/unread-count", unreadCount).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read-all", markAllNotificationsRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}", getNotification).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}", deleteNotification).Methods(http.MethodDelete)
	r.HandleFunc("/notifications/{id}/read", markNotificationRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/displayed", markNotificationDisplayed).Methods(http.MethodPost)
}

type publishNotificationRequest struct {
	UserID    string                  `json:"user_id"`
	Type      models.NotificationType `json:"type"`
	Priority  models.Priority         `json:"priority,omitempty"`
	Payload   json.RawMessage         `json:"payload"`
	ExpiresTS int64                   `json:"expires_ts,omitempty"`
}

// publishNotification handles POST /v1/notifications: announcements and
// system notices. Communication notifications are created by the
// delivery router on message sends, never through this endpoint.
func publishNotification(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req publishNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Type == models.NotifCommunication {
		utils.JSONError(w, http.StatusBadRequest, "communication notifications are created by message delivery")
		return
	}
	n := &models.Notification{
		UserID:    req.UserID,
		Type:      req.Type,
		Priority:  req.Priority,
		Payload:   req.Payload,
		ExpiresTS: req.ExpiresTS,
	}
	if err := router.PublishNotification(n); err != nil {
		utils.JSONFault(w, err)
		return
	}
	logger.Info("notification_published", "id", n.ID, "user", n.UserID, "type", n.Type, "by", uid)
	_ = utils.JSONWrite(w, http.StatusCreated, n)
}

// listNotifications handles GET /v1/notifications with optional type,
// unread, limit and before filters.
func listNotifications(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	f := store.NotificationFilter{
		Type:       models.NotificationType(r.URL.Query().Get("type")),
		UnreadOnly: queryBool(r, "unread"),
		Limit:      queryInt(r, "limit", 0),
		BeforeTS:   queryInt64(r, "before", 0),
	}
	ns, err := store.ListNotifications(uid, f)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Notifications []*models.Notification `json:"notifications"`
	}{Notifications: ns})
}

// unreadCount handles GET /v1/notifications/unread-count.
func unreadCount(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := store.CountUnreadNotifications(uid)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Count int `json:"count"`
	}{Count: n})
}

// getNotification handles GET /v1/notifications/{id}.
func getNotification(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := store.GetNotification(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	if n.UserID != uid {
		utils.JSONError(w, http.StatusForbidden, "not the notification owner")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, n)
}

// markNotificationRead handles POST /v1/notifications/{id}/read.
// Repeats return the unchanged record; the unread counter moves at most
// once per notification.
func markNotificationRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := store.MarkNotificationRead(mux.Vars(r)["id"], uid)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, n)
}

// markNotificationDisplayed handles POST /v1/notifications/{id}/displayed:
// records that the client surfaced the notification, without marking it
// read.
func markNotificationDisplayed(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := store.MarkNotificationDisplayed(mux.Vars(r)["id"], uid)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, n)
}

// markAllNotificationsRead handles POST /v1/notifications/read-all and
// reports how many records actually changed.
func markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	changed, err := store.MarkAllNotificationsRead(uid)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Marked int `json:"marked"`
	}{Marked: changed})
}

// deleteNotification handles DELETE /v1/notifications/{id}.
func deleteNotification(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := store.DeleteNotification(mux.Vars(r)["id"], uid); err != nil {
		utils.JSONFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
