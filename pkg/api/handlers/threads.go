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

// RegisterThreads registers thread routes on the versioned subrouter.
func RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads", createThread).Methods(http.MethodPost)
	r.HandleFunc("/threads", listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", deleteThread).Methods(http.MethodDelete)
	r.HandleFunc("/threads/{id}/read", markThreadRead).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/mute", setThreadMuted).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/messages", sendThreadMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/messages", listThreadMessages).Methods(http.MethodGet)
}

type createThreadRequest struct {
	ID           string   `json:"id,omitempty"`
	Subject      string   `json:"subject,omitempty"`
	Participants []string `json:"participants"`
	// Message, when present, is sent into the thread right after
	// creation so a conversation can open with one round trip.
	Message string `json:"message,omitempty"`
}

// createThread handles POST /v1/threads. The caller is always included
// as a participant, whether or not the body lists them.
func createThread(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	participants := req.Participants
	if !contains(participants, uid) {
		participants = append(participants, uid)
	}
	t := &models.Thread{
		ID:           req.ID,
		Subject:      req.Subject,
		Participants: participants,
	}
	if err := store.CreateThread(t); err != nil {
		utils.JSONFault(w, err)
		return
	}
	logger.Info("thread_created", "thread", t.ID, "creator", uid, "participants", len(t.Participants))
	if req.Message != "" {
		if _, err := router.PublishMessage(t.ID, uid, req.Message, store.AppendOptions{}, nil); err != nil {
			utils.JSONFault(w, err)
			return
		}
		if refreshed, err := store.GetThread(t.ID); err == nil {
			t = refreshed
		}
	}
	_ = utils.JSONWrite(w, http.StatusCreated, t)
}

// listThreads handles GET /v1/threads: the caller's active threads,
// most recently active first.
func listThreads(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	threads, err := store.ListThreadsFor(uid, queryInt(r, "limit", 0))
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Threads []*models.Thread `json:"threads"`
	}{Threads: threads})
}

// getThread handles GET /v1/threads/{id}. Only participants may read a
// thread.
func getThread(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	t, err := store.GetThread(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	if !t.HasParticipant(uid) {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this thread")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, t)
}

// deleteThread handles DELETE /v1/threads/{id}: soft delete with a
// cascading tombstone over the thread's messages.
func deleteThread(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := store.SoftDeleteThread(mux.Vars(r)["id"], uid); err != nil {
		utils.JSONFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// markThreadRead handles POST /v1/threads/{id}/read: resets the
// caller's unread counter for the thread. Repeats are no-ops.
func markThreadRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := store.MarkThreadRead(id, uid); err != nil {
		utils.JSONFault(w, err)
		return
	}
	t, err := store.GetThread(id)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, t)
}

// setThreadMuted handles POST /v1/threads/{id}/mute: toggles the
// caller's notification suppression for the thread.
func setThreadMuted(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := mux.Vars(r)["id"]
	if err := store.SetThreadMuted(id, uid, req.Muted); err != nil {
		utils.JSONFault(w, err)
		return
	}
	t, err := store.GetThread(id)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, t)
}

type sendMessageRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// sendThreadMessage handles POST /v1/threads/{id}/messages. The send
// goes through the delivery router, so the durable write commits first
// and connected recipients get the push. A client-supplied id that was
// already used comes back as 409.
func sendThreadMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := router.PublishMessage(mux.Vars(r)["id"], uid, req.Content,
		store.AppendOptions{ID: req.ID, ReplyTo: req.ReplyTo}, nil)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

// listThreadMessages handles GET /v1/threads/{id}/messages with
// optional limit, before (exclusive ns timestamp) and include_deleted.
func listThreadMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	t, err := store.GetThread(id)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	if !t.HasParticipant(uid) {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this thread")
		return
	}
	msgs, err := store.ListMessages(id,
		queryInt(r, "limit", 0),
		queryInt64(r, "before", 0),
		queryBool(r, "include_deleted"))
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread   string            `json:"thread"`
		Messages []*models.Message `json:"messages"`
	}{Thread: id, Messages: msgs})
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
