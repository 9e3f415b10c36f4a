package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type kickRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// kick force-closes the target's live sockets only; it has no persistent
// effect and the user may reconnect immediately.
func (h *handlers) kick(c *gin.Context) {
	var req kickRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.targetIsOwner(c.Request.Context(), false, req.UserID) {
		c.Error(forbidden("cannot kick the server owner"))
		return
	}
	h.d.Gateway.Kick(req.UserID, req.Reason)
	c.Status(http.StatusNoContent)
}

type banRequest struct {
	Fingerprint string     `json:"fingerprint" binding:"required"`
	Reason      string     `json:"reason"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func (h *handlers) ban(c *gin.Context) {
	var req banRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.targetIsOwner(c.Request.Context(), true, req.Fingerprint) {
		c.Error(forbidden("cannot ban the server owner"))
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.Moderation.Ban(c.Request.Context(), req.Fingerprint, req.Reason, req.ExpiresAt, claims.Subject); err != nil {
		c.Error(err)
		return
	}
	if bannedUserID := h.userIDForFingerprint(c.Request.Context(), req.Fingerprint); bannedUserID != "" {
		h.d.Gateway.Ban(bannedUserID, req.Reason)
	}
	h.d.Gateway.BroadcastEvent("moderation.ban", gin.H{"fingerprint": req.Fingerprint})
	c.Status(http.StatusNoContent)
}

type unbanRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}

func (h *handlers) unban(c *gin.Context) {
	var req unbanRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.Moderation.Unban(c.Request.Context(), req.Fingerprint, claims.Subject); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listBans(c *gin.Context) {
	bans, err := h.d.Moderation.ListBans(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

type createInviteRequest struct {
	MaxUses   *int       `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *handlers) createInvite(c *gin.Context) {
	var req createInviteRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	inv, err := h.d.Moderation.CreateInvite(c.Request.Context(), claims.Subject, req.MaxUses, req.ExpiresAt)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *handlers) listInvites(c *gin.Context) {
	invs, err := h.d.Moderation.ListInvites(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invs})
}

func (h *handlers) deleteInvite(c *gin.Context) {
	if err := h.d.Moderation.DeleteInvite(c.Request.Context(), c.Param("code")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
