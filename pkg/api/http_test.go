package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"commhub/pkg/api"
	"commhub/pkg/auth"
	"commhub/pkg/config"
	"commhub/pkg/hub"
	"commhub/pkg/models"
	"commhub/pkg/store"

	"github.com/stretchr/testify/require"
)

const testSigningKey = "api-test-key"

func startAPI(t *testing.T) *httptest.Server {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
	config.SetRuntime(&config.RuntimeConfig{
		SigningKeys: map[string]struct{}{testSigningKey: {}},
	})

	reg := hub.NewRegistry()
	rt := hub.NewRouter(reg)
	gw := hub.NewGateway(rt, config.RealtimeConfig{})
	h := api.NewHandler(api.Deps{
		Router:     rt,
		Gateway:    gw,
		Middleware: auth.MiddlewareConfig{RPS: 1000, Burst: 1000},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// do issues a signed request as user and decodes the JSON response into
// out when out is non-nil.
func do(t *testing.T, srv *httptest.Server, method, path, user string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Signature", auth.Sign(testSigningKey, user))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestUnauthenticatedRequests(t *testing.T) {
	srv := startAPI(t)

	resp, err := srv.Client().Get(srv.URL + "/v1/threads")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// a forged signature is rejected the same way
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/threads", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", "forged")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// probes stay open
	resp, err = srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestThreadLifecycle(t *testing.T) {
	srv := startAPI(t)

	var created models.Thread
	status := do(t, srv, http.MethodPost, "/v1/threads", "alice",
		map[string]any{"subject": "standup", "participants": []string{"bob"}}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.ElementsMatch(t, []string{"alice", "bob"}, created.Participants)

	var got models.Thread
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/threads/"+created.ID, "bob", nil, &got))
	require.Equal(t, "standup", got.Subject)

	// a stranger with a valid credential is still not a participant
	require.Equal(t, http.StatusForbidden,
		do(t, srv, http.MethodGet, "/v1/threads/"+created.ID, "mallory", nil, nil))

	var listing struct {
		Threads []*models.Thread `json:"threads"`
	}
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/threads", "alice", nil, &listing))
	require.Len(t, listing.Threads, 1)

	// the delete tombstones the thread; it stays fetchable by id but
	// leaves listings
	require.Equal(t, http.StatusNoContent,
		do(t, srv, http.MethodDelete, "/v1/threads/"+created.ID, "alice", nil, nil))
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/threads/"+created.ID, "bob", nil, &got))
	require.False(t, got.Active)
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/threads", "alice", nil, &listing))
	require.Empty(t, listing.Threads)
}

func TestCreateThreadWithFirstMessage(t *testing.T) {
	srv := startAPI(t)

	var th models.Thread
	status := do(t, srv, http.MethodPost, "/v1/threads", "alice",
		map[string]any{"participants": []string{"bob"}, "message": "kicking this off"}, &th)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "kicking this off", th.LastMessage)
	require.Equal(t, "alice", th.LastMessageBy)

	var listing struct {
		Messages []*models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/threads/"+th.ID+"/messages", "bob", nil, &listing))
	require.Len(t, listing.Messages, 1)
}

func TestSendAndListMessages(t *testing.T) {
	srv := startAPI(t)

	var th models.Thread
	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/v1/threads", "alice",
			map[string]any{"participants": []string{"bob"}}, &th))

	var sent models.Message
	status := do(t, srv, http.MethodPost, "/v1/threads/"+th.ID+"/messages", "alice",
		map[string]any{"id": "m1", "content": "hello"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "m1", sent.ID)
	require.Equal(t, "alice", sent.Sender)

	// the client-supplied identity is single-use
	require.Equal(t, http.StatusConflict,
		do(t, srv, http.MethodPost, "/v1/threads/"+th.ID+"/messages", "alice",
			map[string]any{"id": "m1", "content": "hello again"}, nil))

	// non-participants cannot send
	require.Equal(t, http.StatusForbidden,
		do(t, srv, http.MethodPost, "/v1/threads/"+th.ID+"/messages", "mallory",
			map[string]any{"content": "let me in"}, nil))

	var listing struct {
		Messages []*models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/threads/"+th.ID+"/messages", "bob", nil, &listing))
	require.Len(t, listing.Messages, 1)
	require.Equal(t, "m1", listing.Messages[0].ID)

	// the send bumped bob's unread counter and left a notification
	var unread struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/notifications/unread-count", "bob", nil, &unread))
	require.Equal(t, 1, unread.Count)
}

func TestMarkThreadRead(t *testing.T) {
	srv := startAPI(t)

	var th models.Thread
	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/v1/threads", "alice",
			map[string]any{"participants": []string{"bob"}}, &th))
	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/v1/threads/"+th.ID+"/messages", "alice",
			map[string]any{"content": "ping"}, nil))

	var after models.Thread
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodPost, "/v1/threads/"+th.ID+"/read", "bob", nil, &after))
	require.Zero(t, after.ParticipantState("bob").UnreadCount)

	// repeat is a no-op, not an error
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodPost, "/v1/threads/"+th.ID+"/read", "bob", nil, nil))
}

func TestNotificationEndpoints(t *testing.T) {
	srv := startAPI(t)

	var created models.Notification
	status := do(t, srv, http.MethodPost, "/v1/notifications", "admin",
		map[string]any{
			"user_id": "bob",
			"type":    "announcement",
			"payload": map[string]string{"title": "maintenance tonight"},
		}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "bob", created.UserID)

	// communication records come only from message delivery
	require.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodPost, "/v1/notifications", "admin",
			map[string]any{"user_id": "bob", "type": "communication"}, nil))

	var listing struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodGet, "/v1/notifications?unread=true", "bob", nil, &listing))
	require.Len(t, listing.Notifications, 1)

	// only the owner sees the record
	require.Equal(t, http.StatusForbidden,
		do(t, srv, http.MethodGet, "/v1/notifications/"+created.ID, "mallory", nil, nil))

	var read models.Notification
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodPost, "/v1/notifications/"+created.ID+"/read", "bob", nil, &read))
	require.True(t, read.IsRead)

	var marked struct {
		Marked int `json:"marked"`
	}
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodPost, "/v1/notifications/read-all", "bob", nil, &marked))
	require.Zero(t, marked.Marked)

	require.Equal(t, http.StatusNoContent,
		do(t, srv, http.MethodDelete, "/v1/notifications/"+created.ID, "bob", nil, nil))
	require.Equal(t, http.StatusNotFound,
		do(t, srv, http.MethodGet, "/v1/notifications/"+created.ID, "bob", nil, nil))
}
