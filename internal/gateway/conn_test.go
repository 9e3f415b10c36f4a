package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestGateway(t *testing.T, g *Gateway, userID string) (*websocket.Conn, chan struct{}) {
	t.Helper()
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.Serve(context.Background(), conn, &Client{UserID: userID})
		close(served)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, served
}

// readUntilClose drains data frames (the presence snapshot arrives first)
// until the peer's close frame surfaces as a CloseError.
func readUntilClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected a close frame, got %v", err)
		return closeErr
	}
}

func TestPongTimeoutSendsGoingAwayClose(t *testing.T) {
	origPing, origPong := pingInterval, pongTimeout
	pingInterval, pongTimeout = 50*time.Millisecond, 50*time.Millisecond
	t.Cleanup(func() { pingInterval, pongTimeout = origPing, origPong })

	g := New(zerolog.Nop())
	conn, served := dialTestGateway(t, g, "user-1")

	// Swallow pings instead of answering them, so the server's pong
	// window expires.
	conn.SetPingHandler(func(string) error { return nil })

	closeErr := readUntilClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "pong timeout", closeErr.Text)

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection did not tear down after the timeout")
	}
	assert.False(t, g.Registry.IsOnline("user-1"))
}

func TestForceCloseDeliversCloseCodeOverWire(t *testing.T) {
	g := New(zerolog.Nop())
	conn, served := dialTestGateway(t, g, "user-2")

	// Wait for the connection to register before force-closing it.
	require.Eventually(t, func() bool { return g.Registry.IsOnline("user-2") },
		2*time.Second, 10*time.Millisecond)

	g.Ban("user-2", "banned")

	closeErr := readUntilClose(t, conn)
	assert.Equal(t, CloseBanned, closeErr.Code)
	assert.Equal(t, "banned", closeErr.Text)

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection did not tear down after force-close")
	}
}
