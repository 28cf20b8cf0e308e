package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"commhub/pkg/auth"
	"commhub/pkg/config"
	"commhub/pkg/faults"
	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/store"

	"github.com/gorilla/websocket"
)

// authWait bounds how long an upgraded connection may exist before its
// authenticate frame arrives.
const authWait = 10 * time.Second

// Gateway upgrades websocket connections, runs the authenticate
// handshake and dispatches client frames onto the router.
type Gateway struct {
	router   *Router
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
}

// NewGateway builds the websocket entry point.
func NewGateway(router *Router, cfg config.RealtimeConfig) *Gateway {
	return &Gateway{
		router: router,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// REST middleware owns origin policy; the gateway re-checks
			// nothing beyond the credential in the handshake frame.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler serves GET /v1/ws. The session is authenticated once, by the
// first frame; there is no re-authentication mid-connection.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		userID, err := g.handshake(conn)
		if err != nil {
			logger.Warn("ws_auth_failed", "remote", r.RemoteAddr, "error", err)
			_ = conn.WriteJSON(&Frame{Event: EvtError, Data: mustJSON(ErrorPayload{
				Code: "auth", Message: "authentication failed", Fatal: true,
			})})
			_ = conn.Close()
			return
		}

		sess := NewSession(conn, userID, g.cfg)
		reg := g.router.Registry()
		reg.Register(sess)
		logger.Info("session_connected", "session", sess.ID, "user", userID)

		// confirm the handshake so the client knows the credential held
		if ok, err := NewFrame(EvtAck, "auth", nil); err == nil {
			sess.Push(ok)
		}

		defer func() {
			reg.Drop(sess)
			sess.Close()
			logger.Info("session_disconnected", "session", sess.ID, "user", userID)
		}()

		go sess.writePump()
		sess.readPump(func(f *Frame) { g.dispatch(sess, f) })
	}
}

// handshake waits for the authenticate frame and verifies its credential.
func (g *Gateway) handshake(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return "", faults.Authf("no authenticate frame: %v", err)
	}
	if f.Event != EvtAuthenticate {
		return "", faults.Authf("expected %s, got %s", EvtAuthenticate, f.Event)
	}
	var cred auth.Credential
	if err := json.Unmarshal(f.Data, &cred); err != nil {
		return "", faults.Authf("bad credential payload: %v", err)
	}
	if err := auth.Verify(cred); err != nil {
		return "", err
	}
	return cred.UserID, nil
}

func (g *Gateway) dispatch(s *Session, f *Frame) {
	switch f.Event {
	case EvtJoinThread:
		var p ThreadRef
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ThreadID == "" {
			g.sendError(s, f.Ref, "bad_payload", "join_thread requires thread_id", nil)
			return
		}
		if err := g.router.Registry().Join(s, p.ThreadID); err != nil {
			g.sendError(s, f.Ref, faultCode(err), err.Error(), err)
			return
		}
		g.sendAck(s, f.Ref, nil)

	case EvtLeaveThread:
		var p ThreadRef
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ThreadID == "" {
			g.sendError(s, f.Ref, "bad_payload", "leave_thread requires thread_id", nil)
			return
		}
		g.router.Registry().Leave(s, p.ThreadID)
		g.sendAck(s, f.Ref, nil)

	case EvtSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ThreadID == "" {
			g.sendError(s, f.Ref, "bad_payload", "send_message requires thread_id and content", nil)
			return
		}
		msg, err := g.router.PublishMessage(p.ThreadID, s.UserID, p.Content,
			store.AppendOptions{ID: p.MessageID, ReplyTo: p.ReplyTo}, s)
		if err != nil {
			g.sendError(s, f.Ref, faultCode(err), err.Error(), err)
			return
		}
		g.sendAck(s, f.Ref, msg)

	case EvtTyping, EvtStoppedTyping:
		var p TypingPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ThreadID == "" {
			return // ephemeral; silently dropped
		}
		g.router.BroadcastTyping(p.ThreadID, s.UserID, f.Event == EvtStoppedTyping, s)

	default:
		g.sendError(s, f.Ref, "unknown_event", "unknown event "+f.Event, nil)
	}
}

func (g *Gateway) sendAck(s *Session, ref string, msg *models.Message) {
	f, err := NewFrame(EvtAck, ref, AckPayload{Message: msg})
	if err != nil {
		return
	}
	s.Push(f)
}

func (g *Gateway) sendError(s *Session, ref, code, msg string, cause error) {
	if cause != nil && errors.Is(cause, faults.ErrAuthorization) {
		logger.Warn("ws_operation_rejected", "session", s.ID, "user", s.UserID, "reason", msg)
	}
	f, err := NewFrame(EvtError, ref, ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	s.Push(f)
}

func faultCode(err error) string {
	switch {
	case errors.Is(err, faults.ErrAuth):
		return "auth"
	case errors.Is(err, faults.ErrAuthorization):
		return "authorization"
	case errors.Is(err, faults.ErrNotFound):
		return "not_found"
	case errors.Is(err, faults.ErrConflict):
		return "conflict"
	case errors.Is(err, faults.ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
