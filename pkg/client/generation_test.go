package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsTarget brings up a bare websocket endpoint that holds connections
// open, for transport-level tests below the authenticate handshake.
func wsTarget(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTarget(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wc, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return wc
}

func newBareConn() *Conn {
	return &Conn{
		joined:  make(map[string]struct{}),
		pending: make(map[string]chan pendingResult),
		events:  make(chan Event, 8),
		done:    make(chan struct{}),
	}
}

func TestInstallSupersedesOlderTransport(t *testing.T) {
	url := wsTarget(t)
	c := newBareConn()

	gen1, ok := c.install(dialTarget(t, url))
	require.True(t, ok)
	gen2, ok := c.install(dialTarget(t, url))
	require.True(t, ok)
	require.Greater(t, gen2, gen1)
	require.False(t, c.current(gen1))
	require.True(t, c.current(gen2))
	require.NoError(t, c.Close())
}

func TestStaleGenerationDropIsIgnored(t *testing.T) {
	url := wsTarget(t)
	c := newBareConn()

	wc1 := dialTarget(t, url)
	gen1, ok := c.install(wc1)
	require.True(t, ok)
	_, ok = c.install(dialTarget(t, url))
	require.True(t, ok)

	// the superseded transport reporting its death must not touch
	// connection state: no disconnect event, no reconnect attempt
	c.handleDrop(wc1, gen1, errors.New("read on closed transport"))
	select {
	case e := <-c.events:
		t.Fatalf("unexpected %s event from a stale drop", e.Type)
	case <-time.After(200 * time.Millisecond):
	}
	require.True(t, c.current(2))
	require.NoError(t, c.Close())
}

func TestInstallRefusedAfterClose(t *testing.T) {
	url := wsTarget(t)
	c := newBareConn()
	_, ok := c.install(dialTarget(t, url))
	require.True(t, ok)
	require.NoError(t, c.Close())

	_, ok = c.install(dialTarget(t, url))
	require.False(t, ok)
}
