package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader is shared by the single WebSocket endpoint (GET /ws?token=...).
// Origin checking is permissive: a federated server is reached from
// arbitrary clients, not a same-origin browser app.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RejectWithClose completes the WebSocket handshake and then immediately
// closes with code. The handshake must succeed first; failing the HTTP
// upgrade would hide the close code (4001/4002/4003) from the client.
func RejectWithClose(w http.ResponseWriter, r *http.Request, code int, reason string) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return nil
}
