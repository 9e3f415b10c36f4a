package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/dm"
)

type createDMConversationRequest struct {
	PeerFingerprint string `json:"peer_fingerprint" binding:"required"`
}

func (h *handlers) createDMConversation(c *gin.Context) {
	var req createDMConversationRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	conv, err := h.d.DM.GetOrCreateConversation(c.Request.Context(), claims.Fingerprint, req.PeerFingerprint)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handlers) listDMConversations(c *gin.Context) {
	claims := ClaimsFrom(c)
	convs, err := h.d.DM.ListConversations(c.Request.Context(), claims.Fingerprint)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

type sendDMRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Recipient      string `json:"recipient_fingerprint" binding:"required"`
	Ciphertext     string `json:"ciphertext" binding:"required"`
	Nonce          string `json:"nonce" binding:"required"`
	EphemeralPub   string `json:"ephemeral_pub"`
	TsMs           int64  `json:"ts_ms"`
}

func (h *handlers) sendDMMessage(c *gin.Context) {
	var req sendDMRequest
	if !bindJSON(c, &req) {
		return
	}
	ciphertext, err := hex.DecodeString(req.Ciphertext)
	if err != nil {
		c.Error(badRequest("ciphertext must be hex"))
		return
	}
	nonce, err := hex.DecodeString(req.Nonce)
	if err != nil {
		c.Error(badRequest("nonce must be hex"))
		return
	}
	var ephemeralPub []byte
	if req.EphemeralPub != "" {
		ephemeralPub, err = hex.DecodeString(req.EphemeralPub)
		if err != nil {
			c.Error(badRequest("ephemeral_pub must be hex"))
			return
		}
	}

	claims := ClaimsFrom(c)
	in := dm.SendInput{
		ConversationID:    req.ConversationID,
		Sender:            claims.Fingerprint,
		Recipient:         req.Recipient,
		Ciphertext:        ciphertext,
		Nonce:             nonce,
		EphemeralPub:      ephemeralPub,
		TsMs:              req.TsMs,
		SenderDisplayName: h.displayNameFor(c.Request.Context(), claims.Subject),
	}
	msg, err := h.d.DM.Send(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}

	recipientUserID := h.userIDForFingerprint(c.Request.Context(), req.Recipient)
	if recipientUserID != "" && h.d.Gateway.Registry.IsOnline(recipientUserID) {
		h.d.Gateway.SendEventToUser(recipientUserID, "dm.message", msg)
	} else if err := h.d.DM.Enqueue(c.Request.Context(), req.Recipient, msg.ID); err != nil {
		c.Error(err)
		return
	}
	// Keep the sender's other devices in sync.
	h.d.Gateway.SendEventToUser(claims.Subject, "dm.message", msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) getDMMessage(c *gin.Context) {
	msg, err := h.d.DM.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type putDMKeyRequest struct {
	X25519PubKey string `json:"x25519_pubkey" binding:"required"`
}

func (h *handlers) putDMKey(c *gin.Context) {
	var req putDMKeyRequest
	if !bindJSON(c, &req) {
		return
	}
	key, err := hex.DecodeString(req.X25519PubKey)
	if err != nil {
		c.Error(badRequest("x25519_pubkey must be hex"))
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.DM.PutKey(c.Request.Context(), claims.Fingerprint, key); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) getDMKey(c *gin.Context) {
	key, err := h.d.DM.GetKey(c.Request.Context(), c.Param("fp"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ed25519_pubkey_hex": key.Ed25519PubKeyHex, "x25519_pubkey": hex.EncodeToString(key.X25519PubKey)})
}

func (h *handlers) pullDMOffline(c *gin.Context) {
	claims := ClaimsFrom(c)
	entries, err := h.d.DM.PullOffline(c.Request.Context(), claims.Fingerprint)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *handlers) ackDMOffline(c *gin.Context) {
	// PullOffline already marks returned rows delivered; this
	// endpoint exists for clients that prefer an explicit two-phase pull.
	c.Status(http.StatusNoContent)
}
