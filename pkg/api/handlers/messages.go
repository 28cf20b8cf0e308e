package handlers

import (
	"net/http"

	"commhub/pkg/models"
	"commhub/pkg/store"
	"commhub/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterMessages registers message-by-id routes on the versioned
// subrouter. Sends are thread-scoped; see threads.go.
func RegisterMessages(r *mux.Router) {
	r.HandleFunc("/messages/{id}", getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/read", markMessageRead).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/versions", listMessageVersions).Methods(http.MethodGet)
}

// getMessage handles GET /v1/messages/{id}.
func getMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	m, err := store.GetMessage(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	t, err := store.GetThread(m.Thread)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	if !t.HasParticipant(uid) {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this thread")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// markMessageRead handles POST /v1/messages/{id}/read: adds the
// caller's read receipt. Repeats return the unchanged record.
func markMessageRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	m, err := store.MarkMessageRead(mux.Vars(r)["id"], uid)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// deleteMessage handles DELETE /v1/messages/{id}: sender-only soft
// delete.
func deleteMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := store.SoftDeleteMessage(mux.Vars(r)["id"], uid); err != nil {
		utils.JSONFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listMessageVersions handles GET /v1/messages/{id}/versions: the
// message's mutation history, oldest first.
func listMessageVersions(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	m, err := store.GetMessage(id)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	t, err := store.GetThread(m.Thread)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	if !t.HasParticipant(uid) {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this thread")
		return
	}
	vs, err := store.ListMessageVersions(id)
	if err != nil {
		utils.JSONFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID       string            `json:"id"`
		Versions []*models.Message `json:"versions"`
	}{ID: id, Versions: vs})
}
