package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"commhub/pkg/auth"
	"commhub/pkg/faults"
	"commhub/pkg/hub"
	"commhub/pkg/logger"
	"commhub/pkg/models"
	"commhub/pkg/utils"

	"github.com/codeGROOVE-dev/retry"
	"github.com/gorilla/websocket"
)

// ErrFallbackToPolling reports that the websocket could not be
// established within the bounded retry budget. The caller keeps working
// against the REST surface until the next explicit Connect.
var ErrFallbackToPolling = errors.New("websocket unavailable, fall back to polling")

// ErrClosed reports an operation on a closed connection.
var ErrClosed = errors.New("connection closed")

const (
	defaultConnectTimeout = 12 * time.Second
	connectAttempts       = 3
	requestTimeout        = 10 * time.Second
	pongWait              = 60 * time.Second
	writeWait             = 10 * time.Second
)

// Options configures a client connection.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/v1/ws.
	URL        string
	Credential auth.Credential

	// ConnectTimeout bounds a single dial+handshake attempt; the retry
	// budget on top of it is fixed at three attempts.
	ConnectTimeout time.Duration

	// EventBuffer sizes the typed event stream. Overflow drops the
	// event; the reconciler recovers the record on its next REST fetch.
	EventBuffer int
}

type pendingResult struct {
	ack *hub.AckPayload
	err error
}

// Conn is one authenticated client connection. It survives transport
// drops: a drop starts a bounded reconnect, and a successful reconnect
// re-issues join_thread for every room the connection was in, since the
// server forgets membership on disconnect.
type Conn struct {
	opts Options

	mu  sync.Mutex
	ws  *websocket.Conn
	gen uint64

	wmu sync.Mutex

	joinedMu sync.Mutex
	joined   map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult

	events chan Event
	done   chan struct{}
	closed sync.Once
	refSeq uint64
}

// Connect dials, authenticates and returns a live connection. Dial
// failures are retried with capped exponential backoff and jitter; on
// exhaustion the error wraps ErrFallbackToPolling. Authentication
// rejections are terminal, not retried.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	c := &Conn{
		opts:    opts,
		joined:  make(map[string]struct{}),
		pending: make(map[string]chan pendingResult),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	if err := c.establish(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// establish runs the bounded dial loop and installs the resulting
// transport under a fresh generation.
func (c *Conn) establish(ctx context.Context) error {
	var wc *websocket.Conn
	err := retry.Do(
		func() error {
			dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
			defer cancel()
			conn, _, err := websocket.DefaultDialer.DialContext(dctx, c.opts.URL, nil)
			if err != nil {
				return err
			}
			f, err := hub.NewFrame(hub.EvtAuthenticate, "", c.opts.Credential)
			if err != nil {
				_ = conn.Close()
				return retry.Unrecoverable(err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				_ = conn.Close()
				return err
			}
			// the server confirms the credential before anything else
			var resp hub.Frame
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.ConnectTimeout))
			if err := conn.ReadJSON(&resp); err != nil {
				_ = conn.Close()
				return err
			}
			if resp.Event == hub.EvtError {
				var e hub.ErrorPayload
				_ = json.Unmarshal(resp.Data, &e)
				_ = conn.Close()
				return retry.Unrecoverable(faults.Authf("%s", e.Message))
			}
			_ = conn.SetReadDeadline(time.Time{})
			wc = conn
			return nil
		},
		retry.Attempts(connectAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(8*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("ws_connect_retry", "attempt", n+1, "url", c.opts.URL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, faults.ErrAuth)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errors.Is(err, faults.ErrAuth) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", ErrFallbackToPolling, err)
	}
	gen, ok := c.install(wc)
	if !ok {
		// a concurrent attempt already installed a newer transport;
		// this one must not touch connection state (supersession)
		_ = wc.Close()
		return nil
	}
	go c.readLoop(wc, gen)
	go c.rejoinRooms()
	return nil
}

// install swaps in the transport and claims the next generation. A
// closed connection refuses the install.
func (c *Conn) install(wc *websocket.Conn) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return 0, false
	default:
	}
	if c.ws != nil {
		_ = c.ws.Close()
	}
	c.ws = wc
	c.gen++
	return c.gen, true
}

// current reports whether gen is still the live transport generation.
func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.ws != nil
}

// rejoinRooms re-issues join_thread for every room tracked locally.
// Failures are logged, not fatal: a room that refuses the rejoin (the
// user was removed from the thread) is dropped from tracking.
func (c *Conn) rejoinRooms() {
	c.joinedMu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for id := range c.joined {
		rooms = append(rooms, id)
	}
	c.joinedMu.Unlock()
	for _, id := range rooms {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		_, err := c.request(ctx, hub.EvtJoinThread, hub.ThreadRef{ThreadID: id})
		cancel()
		if err != nil {
			logger.Warn("ws_rejoin_failed", "thread", id, "error", err)
			if errors.Is(err, faults.ErrAuthorization) {
				c.joinedMu.Lock()
				delete(c.joined, id)
				c.joinedMu.Unlock()
			}
		}
	}
}

// readLoop consumes server frames for one transport generation. A read
// error on the live generation triggers reconnect; a stale generation
// exits silently.
func (c *Conn) readLoop(wc *websocket.Conn, gen uint64) {
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = wc.SetReadDeadline(time.Now().Add(pongWait))
	pinger := time.NewTicker(pongWait * 9 / 10)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				if !c.current(gen) {
					return
				}
				c.wmu.Lock()
				_ = wc.SetWriteDeadline(time.Now().Add(writeWait))
				err := wc.WriteMessage(websocket.PingMessage, nil)
				c.wmu.Unlock()
				if err != nil {
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	for {
		var f hub.Frame
		if err := wc.ReadJSON(&f); err != nil {
			c.handleDrop(wc, gen, err)
			return
		}
		_ = wc.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(&f)
	}
}

func (c *Conn) handleDrop(wc *websocket.Conn, gen uint64, cause error) {
	_ = wc.Close()
	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	logger.Warn("ws_transport_dropped", "error", cause)
	c.failPending(ErrClosed)
	c.emit(Event{Type: EventDisconnected})
	go func() {
		if err := c.establish(context.Background()); err != nil {
			logger.Error("ws_reconnect_exhausted", "error", err)
			c.emit(Event{Type: EventFallback, Err: err})
			return
		}
		c.emit(Event{Type: EventReconnected})
	}()
}

func (c *Conn) handleFrame(f *hub.Frame) {
	switch f.Event {
	case hub.EvtAck, hub.EvtError:
		c.resolvePending(f)
	case hub.EvtNewMessage:
		var m models.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			logger.Warn("ws_bad_message_frame", "error", err)
			return
		}
		c.emit(Event{Type: EventMessage, Message: &m})
	case hub.EvtNewNotification:
		var n models.Notification
		if err := json.Unmarshal(f.Data, &n); err != nil {
			logger.Warn("ws_bad_notification_frame", "error", err)
			return
		}
		c.emit(Event{Type: EventNotification, Notification: &n})
	case hub.EvtTyping, hub.EvtStoppedTyping:
		var t hub.TypingPayload
		if err := json.Unmarshal(f.Data, &t); err != nil {
			return
		}
		c.emit(Event{Type: EventTyping, Typing: &t, TypingStopped: f.Event == hub.EvtStoppedTyping})
	default:
		logger.Debug("ws_unknown_event", "event", f.Event)
	}
}

func (c *Conn) resolvePending(f *hub.Frame) {
	if f.Ref == "" {
		if f.Event == hub.EvtError {
			var e hub.ErrorPayload
			_ = json.Unmarshal(f.Data, &e)
			logger.Warn("ws_server_error", "code", e.Code, "message", e.Message, "fatal", e.Fatal)
		}
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[f.Ref]
	if ok {
		delete(c.pending, f.Ref)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	if f.Event == hub.EvtError {
		var e hub.ErrorPayload
		_ = json.Unmarshal(f.Data, &e)
		ch <- pendingResult{err: faultFromCode(e.Code, e.Message)}
		return
	}
	var ack hub.AckPayload
	_ = json.Unmarshal(f.Data, &ack)
	ch <- pendingResult{ack: &ack}
}

func (c *Conn) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for ref, ch := range c.pending {
		ch <- pendingResult{err: err}
		delete(c.pending, ref)
	}
}

func (c *Conn) emit(e Event) {
	select {
	case c.events <- e:
	default:
		logger.Warn("client_event_dropped", "type", string(e.Type))
	}
}

// write sends one frame on the live transport.
func (c *Conn) write(f *hub.Frame) error {
	c.mu.Lock()
	wc := c.ws
	c.mu.Unlock()
	if wc == nil {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = wc.SetWriteDeadline(time.Now().Add(writeWait))
	return wc.WriteJSON(f)
}

// request sends a frame and waits for its correlated ack or error.
func (c *Conn) request(ctx context.Context, event string, payload any) (*hub.AckPayload, error) {
	ref := fmt.Sprintf("r%d", atomic.AddUint64(&c.refSeq, 1))
	f, err := hub.NewFrame(event, ref, payload)
	if err != nil {
		return nil, err
	}
	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[ref] = ch
	c.pendingMu.Unlock()

	if err := c.write(f); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, ref)
		c.pendingMu.Unlock()
		return nil, err
	}
	select {
	case res := <-ch:
		return res.ack, res.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, ref)
		c.pendingMu.Unlock()
		return nil, faults.Timeoutf("no response for %s", event)
	case <-c.done:
		return nil, ErrClosed
	}
}

// JoinThread subscribes this connection to a thread room. The server
// rejects non-participants with an authorization fault.
func (c *Conn) JoinThread(ctx context.Context, threadID string) error {
	if _, err := c.request(ctx, hub.EvtJoinThread, hub.ThreadRef{ThreadID: threadID}); err != nil {
		return err
	}
	c.joinedMu.Lock()
	c.joined[threadID] = struct{}{}
	c.joinedMu.Unlock()
	return nil
}

// LeaveThread unsubscribes from a thread room.
func (c *Conn) LeaveThread(ctx context.Context, threadID string) error {
	c.joinedMu.Lock()
	delete(c.joined, threadID)
	c.joinedMu.Unlock()
	_, err := c.request(ctx, hub.EvtLeaveThread, hub.ThreadRef{ThreadID: threadID})
	return err
}

// SendMessage sends content to a thread and waits for the durable ack.
// The message id is generated locally before the send so the caller can
// insert an optimistic entry the reconciler later replaces in place.
func (c *Conn) SendMessage(ctx context.Context, threadID, content string) (*models.Message, error) {
	return c.SendMessageWithID(ctx, threadID, content, utils.GenMessageID())
}

// SendMessageWithID sends with a caller-chosen durable identity.
func (c *Conn) SendMessageWithID(ctx context.Context, threadID, content, msgID string) (*models.Message, error) {
	ack, err := c.request(ctx, hub.EvtSendMessage, hub.SendMessagePayload{
		ThreadID:  threadID,
		Content:   content,
		MessageID: msgID,
	})
	if err != nil {
		return nil, err
	}
	if ack == nil || ack.Message == nil {
		return nil, fmt.Errorf("ack without message for %s", msgID)
	}
	return ack.Message, nil
}

// Typing sends the ephemeral typing signal; no response expected.
func (c *Conn) Typing(threadID string, stopped bool) error {
	event := hub.EvtTyping
	if stopped {
		event = hub.EvtStoppedTyping
	}
	f, err := hub.NewFrame(event, "", hub.TypingPayload{ThreadID: threadID, UserID: c.opts.Credential.UserID})
	if err != nil {
		return err
	}
	return c.write(f)
}

// Events is the typed stream of server pushes and connection state
// changes.
func (c *Conn) Events() <-chan Event { return c.events }

// Close tears the connection down permanently; no reconnect follows.
func (c *Conn) Close() error {
	c.closed.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.ws.Close()
			c.ws = nil
		}
		c.mu.Unlock()
		c.failPending(ErrClosed)
	})
	return nil
}

// faultFromCode maps a wire error code back onto the fault taxonomy.
func faultFromCode(code, msg string) error {
	switch code {
	case "auth":
		return faults.Authf("%s", msg)
	case "authorization":
		return faults.Authorizationf("%s", msg)
	case "not_found":
		return faults.NotFoundf("%s", msg)
	case "conflict":
		return faults.Conflictf("%s", msg)
	case "timeout":
		return faults.Timeoutf("%s", msg)
	default:
		return errors.New(msg)
	}
}
