package hub

import (
	"sync"
	"time"

	"commhub/pkg/config"
	"commhub/pkg/logger"
	"commhub/pkg/utils"

	"github.com/gorilla/websocket"
)

// Tuning defaults; overridable through config.RealtimeConfig.
const (
	defaultPongWait   = 60 * time.Second
	defaultWriteWait  = 10 * time.Second
	defaultMaxMsgSize = 64 * 1024
	defaultSendBuffer = 256
)

// Session is one authenticated duplex connection. It is ephemeral: bound
// to exactly one user for its whole lifetime, holds the set of rooms it
// joined, and is destroyed on disconnect without being persisted.
type Session struct {
	ID     string
	UserID string

	conn *websocket.Conn
	send chan *Frame
	done chan struct{}

	pongWait   time.Duration
	pingPeriod time.Duration
	writeWait  time.Duration
	maxMsgSize int64

	closeOnce sync.Once

	mu     sync.Mutex
	joined map[string]struct{}
}

// NewSession wraps an upgraded, authenticated websocket connection.
func NewSession(conn *websocket.Conn, userID string, cfg config.RealtimeConfig) *Session {
	pongWait := cfg.PongWait.DurationOr(defaultPongWait)
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}
	maxSize := cfg.MaxMessageSize.Int64()
	if maxSize <= 0 {
		maxSize = defaultMaxMsgSize
	}
	s := &Session{
		ID:         utils.GenSessionID(),
		UserID:     userID,
		conn:       conn,
		send:       make(chan *Frame, buf),
		done:       make(chan struct{}),
		pongWait:   pongWait,
		pingPeriod: pongWait * 9 / 10,
		writeWait:  cfg.WriteWait.DurationOr(defaultWriteWait),
		maxMsgSize: maxSize,
		joined:     make(map[string]struct{}),
	}
	if cfg.PingPeriod.Duration() > 0 && cfg.PingPeriod.Duration() < pongWait {
		s.pingPeriod = cfg.PingPeriod.Duration()
	}
	return s
}

// Push queues a frame for delivery. Delivery is at-least-once from the
// system's point of view: when the buffer is full the session is closed
// as a slow consumer and the client recovers the record on its next REST
// fetch. Push never blocks the caller.
func (s *Session) Push(f *Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- f:
		pushesTotal.WithLabelValues(f.Event).Inc()
		return true
	default:
		logger.Warn("session_send_buffer_full", "session", s.ID, "user", s.UserID)
		s.Close()
		return false
	}
}

// Close tears down the connection once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Done reports session teardown to pumps and the gateway loop.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) trackJoin(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[threadID] = struct{}{}
}

func (s *Session) trackLeave(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, threadID)
}

// joinedRooms returns a snapshot of the rooms this session is in.
func (s *Session) joinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	return out
}

// readPump reads frames from the websocket and hands them to the
// gateway's dispatch until the connection drops.
func (s *Session) readPump(dispatch func(*Frame)) {
	defer func() {
		logger.Debug("session_reader_closed", "session", s.ID, "user", s.UserID)
		s.Close()
	}()
	s.conn.SetReadLimit(s.maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("session_read_error", "session", s.ID, "error", err)
			}
			return
		}
		dispatch(&f)
	}
}

// writePump drains the send queue onto the wire and keeps liveness pings
// flowing.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		logger.Debug("session_writer_closed", "session", s.ID, "user", s.UserID)
		s.Close()
	}()
	for {
		select {
		case f := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				logger.Warn("session_write_error", "session", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
