// Package gateway implements the WebSocket actor-per-connection runtime:
// registry, presence, and the length-prefixed envelope protocol. Each
// connection is served by a reader goroutine, a writer goroutine that is
// the sole owner of the socket's write half, and a keepalive timer, joined
// by a bounded send queue.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Heartbeat timings are vars rather than consts so tests can shorten them.
var (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second
)

const (
	sendQueueSize  = 256
	maxMessageSize = 1 << 20
)

// Application close codes carried on the WebSocket close frame.
const (
	CloseTokenExpired = 4001
	CloseTokenInvalid = 4002
	CloseBanned       = 4003
	CloseKicked       = 4004
)

// HandlerFunc processes one decoded envelope for an authenticated client and
// returns the payload for a success reply. Returning an *apperrors-style
// error causes the envelope to be turned into a structured error reply
// carrying the same request id.
type HandlerFunc func(ctx context.Context, client *Client, payload json.RawMessage) (any, error)

// Client is the per-connection identity and handle visible to handlers and
// to the rest of the process once registered.
type Client struct {
	UserID      string
	Fingerprint string
	IsOwner     bool
	IsAdmin     bool
	Handle      *Handle
	PeerID      string // bound via RegisterPeerId, see gossip peer directory
}

// Gateway owns the registry, presence map, and message-type dispatch table.
// One Gateway is constructed at process startup and shared by every
// connection goroutine.
type Gateway struct {
	Registry *Registry
	Presence *Presence
	handlers map[string]HandlerFunc
	log      zerolog.Logger
}

func New(log zerolog.Logger) *Gateway {
	return &Gateway{
		Registry: NewRegistry(),
		Presence: NewPresence(),
		handlers: make(map[string]HandlerFunc),
		log:      log,
	}
}

// Register binds msgType to a handler. Called during process wiring by each
// domain package (channels, moderation, voice, dm, gossip) so gateway never
// imports them directly.
func (g *Gateway) Register(msgType string, h HandlerFunc) {
	g.handlers[msgType] = h
}

// Serve runs one connection to completion: it registers the client, starts
// the writer goroutine, then reads frames on the calling goroutine until
// the socket closes. It returns once the connection is fully torn down.
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, client *Client) {
	client.Handle = g.Registry.Add(client.UserID, sendQueueSize)
	wasOffline := g.Presence.Set(client.UserID, StatusOnline) == StatusOffline

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go g.writePump(connCtx, conn, client.Handle, done)

	if wasOffline {
		g.broadcastPresence(client.UserID, StatusOnline)
	}
	g.pushPresenceSnapshot(client)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
		return nil
	})
	g.readLoop(connCtx, conn, client)

	cancel()
	<-done

	lastHandle := g.Registry.Remove(client.UserID, client.Handle)
	if lastHandle {
		g.Presence.Set(client.UserID, StatusOffline)
		g.broadcastPresence(client.UserID, StatusOffline)
	}
}

// readLoop decodes binary frames as envelopes and dispatches them; text
// frames are logged and ignored.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// A read-deadline expiry means the peer missed its pong
			// window. Mark the handle so the writer delivers a 1001
			// close frame instead of dropping the socket silently.
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				client.Handle.closeWith(websocket.CloseGoingAway, "pong timeout")
			}
			return
		}
		if msgType == websocket.TextMessage {
			g.log.Debug().Str("user_id", client.UserID).Msg("ignoring text frame")
			continue
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		env, err := Decode(data)
		if err != nil {
			g.sendError(client, "", "bad_frame", err.Error())
			continue
		}

		handler, ok := g.handlers[env.Type]
		if !ok {
			g.sendError(client, env.RequestID, "unknown_type", "unrecognized payload type: "+env.Type)
			continue
		}

		result, err := handler(ctx, client, env.Payload)
		if err != nil {
			g.sendError(client, env.RequestID, "handler_error", err.Error())
			continue
		}
		if result == nil {
			continue
		}
		reply, err := Reply(env.RequestID, env.Type, result)
		if err != nil {
			g.log.Error().Err(err).Msg("encoding reply")
			continue
		}
		g.sendEnvelope(client.Handle, reply)
	}
}

// writePump is the writer subtask: the sole owner of conn's write side, so
// the 30s keepalive ping shares its select loop rather than risking a
// concurrent write from a second goroutine. A missed pong surfaces as a
// read-deadline expiry on the reader side, which marks the handle closed
// with code 1001 (see readLoop); force-close (kick/ban) sets 4003/4004 the
// same way. Either way the close frame is written here before teardown.
func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, h *Handle, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-h.queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.closed:
			g.writeClose(conn, h)
			return
		case <-ctx.Done():
			// The reader cancels this context as it exits. If it marked
			// the handle closed first (pong timeout), ctx.Done and
			// h.closed race in this select; still deliver the frame.
			if h.isClosed() {
				g.writeClose(conn, h)
			}
			return
		}
	}
}

func (g *Gateway) writeClose(conn *websocket.Conn, h *Handle) {
	code, reason := h.CloseCode()
	if code == 0 {
		code = websocket.CloseGoingAway
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (g *Gateway) sendEnvelope(h *Handle, env Envelope) {
	frame, err := Encode(env)
	if err != nil {
		g.log.Error().Err(err).Msg("encoding envelope")
		return
	}
	h.Send(frame)
}

func (g *Gateway) sendError(client *Client, requestID, code, message string) {
	g.sendEnvelope(client.Handle, ErrorReply(requestID, code, message))
}

func (g *Gateway) broadcastPresence(userID string, status Status) {
	env, err := Event("presence", presenceEvent{UserID: userID, Status: int(status)})
	if err != nil {
		return
	}
	frame, err := Encode(env)
	if err != nil {
		return
	}
	g.Registry.BroadcastAll(frame)
}

func (g *Gateway) pushPresenceSnapshot(client *Client) {
	snap := g.Presence.Snapshot()
	entries := make([]presenceEvent, 0, len(snap))
	for uid, st := range snap {
		entries = append(entries, presenceEvent{UserID: uid, Status: int(st)})
	}
	env, err := Event("presence_snapshot", entries)
	if err != nil {
		return
	}
	g.sendEnvelope(client.Handle, env)
}

type presenceEvent struct {
	UserID string `json:"user_id"`
	Status int    `json:"status"`
}

// BroadcastEvent serializes a server-initiated event and fans it out to
// every registered handle. Used by channels/moderation/gossip for
// NewMessageEvent, reaction events, ban broadcasts, and gossip-sourced
// messages.
func (g *Gateway) BroadcastEvent(msgType string, payload any) {
	env, err := Event(msgType, payload)
	if err != nil {
		g.log.Error().Err(err).Msg("encoding broadcast event")
		return
	}
	frame, err := Encode(env)
	if err != nil {
		return
	}
	g.Registry.BroadcastAll(frame)
}

// SendEventToUser is BroadcastEvent restricted to one user's handles.
func (g *Gateway) SendEventToUser(userID, msgType string, payload any) {
	env, err := Event(msgType, payload)
	if err != nil {
		g.log.Error().Err(err).Msg("encoding user event")
		return
	}
	frame, err := Encode(env)
	if err != nil {
		return
	}
	g.Registry.SendToUser(userID, frame)
}

// Kick force-closes every socket userID holds with 4004; the user may
// reconnect immediately.
func (g *Gateway) Kick(userID, reason string) {
	g.Registry.ForceCloseUser(userID, CloseKicked, reason)
}

// Ban force-closes every socket userID holds with 4003.
func (g *Gateway) Ban(userID, reason string) {
	g.Registry.ForceCloseUser(userID, CloseBanned, reason)
}
