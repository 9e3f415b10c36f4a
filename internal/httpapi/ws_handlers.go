package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/channels"
	"github.com/llanx/UNITED/internal/dm"
	"github.com/llanx/UNITED/internal/gateway"
	"github.com/llanx/UNITED/internal/gossip"
	"github.com/llanx/UNITED/internal/identity"
)

func channelsSendInput(client *gateway.Client, req wsChatSendPayload, displayName string) channels.SendInput {
	return channels.SendInput{
		ChannelID:         req.ChannelID,
		SenderPubKeyHex:   client.Fingerprint,
		SenderDisplayName: displayName,
		Content:           req.Content,
		SequenceHint:      req.SequenceHint,
		ReplyToID:         req.ReplyToID,
	}
}

func decodeDMHex(ciphertext, nonce, ephemeral string) (c, n, e []byte, err error) {
	if c, err = hex.DecodeString(ciphertext); err != nil {
		return nil, nil, nil, badRequest("ciphertext_hex must be hex")
	}
	if n, err = hex.DecodeString(nonce); err != nil {
		return nil, nil, nil, badRequest("nonce_hex must be hex")
	}
	if ephemeral != "" {
		if e, err = hex.DecodeString(ephemeral); err != nil {
			return nil, nil, nil, badRequest("ephemeral_pub_hex must be hex")
		}
	}
	return c, n, e, nil
}

func dmSendInput(client *gateway.Client, req wsDMSendPayload, ciphertext, nonce, ephemeral []byte, displayName string) dm.SendInput {
	return dm.SendInput{
		ConversationID:    req.ConversationID,
		Sender:            client.Fingerprint,
		Recipient:         req.Recipient,
		Ciphertext:        ciphertext,
		Nonce:             nonce,
		EphemeralPub:      ephemeral,
		TsMs:              req.TsMs,
		SenderDisplayName: displayName,
	}
}

// websocketUpgrade implements GET /ws?token=...: the
// bearer access token travels as a query parameter since the WebSocket
// handshake carries no body and browsers cannot set arbitrary headers on
// the upgrade request. On validation failure the handshake still completes
// so the close frame's code (4001/4002, or 4003 for a banned user) reaches
// the client, rather than
// failing the HTTP upgrade itself.
func (h *handlers) websocketUpgrade(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		gateway.RejectWithClose(c.Writer, c.Request, gateway.CloseTokenInvalid, "missing token")
		return
	}
	claims, err := h.d.Tokens.ParseAccessToken(token)
	if err != nil {
		code := gateway.CloseTokenInvalid
		if errors.Is(err, identity.ErrTokenExpired) {
			code = gateway.CloseTokenExpired
		}
		gateway.RejectWithClose(c.Writer, c.Request, code, err.Error())
		return
	}

	banned, err := h.d.Moderation.IsBanned(c.Request.Context(), claims.Fingerprint)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if banned {
		gateway.RejectWithClose(c.Writer, c.Request, gateway.CloseBanned, "banned")
		return
	}

	conn, err := gateway.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &gateway.Client{
		UserID:      claims.Subject,
		Fingerprint: claims.Fingerprint,
		IsOwner:     claims.IsOwner,
		IsAdmin:     claims.IsAdmin,
	}
	h.d.Gateway.Serve(c.Request.Context(), conn, client)
}

// RegisterGatewayHandlers binds every WebSocket message type the gateway
// dispatches: chat send mirrors the REST path so either transport reaches
// the same channels.Service; voice signal/speaking and peer-id messages
// exist only over the socket since they relay low-latency signalling state
// (voice.state is also served by REST). Called once from
// cmd/main.go after all services are constructed.
func RegisterGatewayHandlers(d *Deps) {
	h := &handlers{d: d}

	d.Gateway.Register("chat.send", h.wsChatSend)
	d.Gateway.Register("chat.typing", h.wsTyping)
	d.Gateway.Register("dm.send", h.wsDMSend)
	d.Gateway.Register("voice.signal", h.wsVoiceSignal)
	d.Gateway.Register("voice.state", h.wsVoiceState)
	d.Gateway.Register("voice.speaking", h.wsVoiceSpeaking)
	d.Gateway.Register("peer.register", h.wsRegisterPeer)
	d.Gateway.Register("peer.directory", h.wsPeerDirectory)
}

type wsChatSendPayload struct {
	ChannelID    string `json:"channel_id"`
	Content      string `json:"content"`
	SequenceHint int64  `json:"sequence_hint"`
	ReplyToID    *int64 `json:"reply_to_id"`
}

func (h *handlers) wsChatSend(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsChatSendPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	in := channelsSendInput(client, req, h.displayNameFor(ctx, client.UserID))
	evt, err := h.d.Channels.Send(ctx, in)
	if err != nil {
		return nil, err
	}
	h.d.Gateway.BroadcastEvent("message.new", evt)
	h.publishGossip(req.ChannelID, evt)
	return evt, nil
}

type wsTypingPayload struct {
	ChannelID string `json:"channel_id"`
}

func (h *handlers) wsTyping(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsTypingPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	h.d.Gateway.BroadcastEvent("typing", map[string]string{"channel_id": req.ChannelID, "user_id": client.UserID})
	return nil, nil
}

type wsDMSendPayload struct {
	ConversationID string `json:"conversation_id"`
	Recipient      string `json:"recipient_fingerprint"`
	Ciphertext     string `json:"ciphertext_hex"`
	Nonce          string `json:"nonce_hex"`
	EphemeralPub   string `json:"ephemeral_pub_hex"`
	TsMs           int64  `json:"ts_ms"`
}

func (h *handlers) wsDMSend(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsDMSendPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	ciphertext, nonce, ephemeral, err := decodeDMHex(req.Ciphertext, req.Nonce, req.EphemeralPub)
	if err != nil {
		return nil, err
	}
	msg, err := h.d.DM.Send(ctx, dmSendInput(client, req, ciphertext, nonce, ephemeral, h.displayNameFor(ctx, client.UserID)))
	if err != nil {
		return nil, err
	}
	recipientUserID := h.userIDForFingerprint(ctx, req.Recipient)
	if recipientUserID != "" && h.d.Gateway.Registry.IsOnline(recipientUserID) {
		h.d.Gateway.SendEventToUser(recipientUserID, "dm.message", msg)
	} else {
		_ = h.d.DM.Enqueue(ctx, req.Recipient, msg.ID)
	}
	// Keep the sender's other devices in sync.
	h.d.Gateway.SendEventToUser(client.UserID, "dm.message", msg)
	return msg, nil
}

type wsVoiceSignalPayload struct {
	ChannelID string          `json:"channel_id"`
	ToUserID  string          `json:"to_user_id"`
	Kind      string          `json:"kind"` // "offer" | "answer" | "ice"
	Data      json.RawMessage `json:"data"`
}

// wsVoiceSignal relays SDP/ICE payloads opaquely to the target user; it
// does not check that either side has joined a voice channel. The server
// never interprets Data.
func (h *handlers) wsVoiceSignal(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsVoiceSignalPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	h.d.Gateway.SendEventToUser(req.ToUserID, "voice.signal", map[string]any{
		"channel_id":    req.ChannelID,
		"from_user_id":  client.UserID,
		"kind":          req.Kind,
		"data":          req.Data,
	})
	return nil, nil
}

type wsVoiceStatePayload struct {
	ChannelID string `json:"channel_id"`
	Muted     bool   `json:"muted"`
	Deafened  bool   `json:"deafened"`
}

func (h *handlers) wsVoiceState(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsVoiceStatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	p, ok := h.d.Voice.SetState(req.ChannelID, client.UserID, req.Muted, req.Deafened)
	if !ok {
		return nil, notFound("voice participant")
	}
	h.d.Gateway.BroadcastEvent("voice.state", p)
	return nil, nil
}

type wsVoiceSpeakingPayload struct {
	ChannelID string `json:"channel_id"`
	Speaking  bool   `json:"speaking"`
}

// wsVoiceSpeaking broadcasts a transient speaking indicator; it touches no
// stored state.
func (h *handlers) wsVoiceSpeaking(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsVoiceSpeakingPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	h.d.Gateway.BroadcastEvent("voice.speaking", map[string]any{
		"channel_id": req.ChannelID,
		"user_id":    client.UserID,
		"speaking":   req.Speaking,
	})
	return nil, nil
}

type wsPeerDirectoryPayload struct {
	ChannelIDs []string `json:"channel_ids"`
}

// wsPeerDirectory answers a directory query: every known peer subscribed to
// at least one of the requested channels' topics.
func (h *handlers) wsPeerDirectory(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsPeerDirectoryPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	if h.d.Directory == nil || h.d.Swarm == nil {
		return map[string]any{"peers": []any{}}, nil
	}
	topics := make([]string, 0, len(req.ChannelIDs))
	for _, id := range req.ChannelIDs {
		topics = append(topics, gossip.TopicForChannel(h.d.Swarm.PeerID(), id))
	}
	peers := h.d.Directory.PeersForTopics(topics)
	out := make([]map[string]any, 0, len(peers))
	for _, p := range peers {
		subscribed := make([]string, 0, len(p.SubscribedTopics))
		for t := range p.SubscribedTopics {
			subscribed = append(subscribed, t)
		}
		out = append(out, map[string]any{
			"peer_id":     p.PeerID,
			"fingerprint": p.Fingerprint,
			"multiaddrs":  p.Multiaddrs,
			"topics":      subscribed,
			"last_seen":   p.LastSeen,
		})
	}
	return map[string]any{"peers": out}, nil
}

type wsRegisterPeerPayload struct {
	PeerID string `json:"peer_id"`
}

// wsRegisterPeer binds a client's libp2p peer id to its fingerprint in the
// gossip directory, so a received gossip message can be matched back to an
// online gateway client if needed.
func (h *handlers) wsRegisterPeer(ctx context.Context, client *gateway.Client, payload json.RawMessage) (any, error) {
	var req wsRegisterPeerPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, badRequest("malformed payload")
	}
	client.PeerID = req.PeerID
	if h.d.Directory != nil {
		h.d.Directory.RegisterPeerID(req.PeerID, client.Fingerprint)
	}
	return nil, nil
}
