package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/voice"
)

func (h *handlers) voiceJoin(c *gin.Context) {
	claims := ClaimsFrom(c)
	p := voice.Participant{
		UserID:      claims.Subject,
		DisplayName: h.displayNameFor(c.Request.Context(), claims.Subject),
		PubKeyHex:   claims.Fingerprint,
	}
	res, err := h.d.Voice.Join(c.Param("id"), p)
	if err != nil {
		c.Error(conflictErr(err.Error()))
		return
	}
	if res.LeftChannel != "" {
		h.d.Gateway.BroadcastEvent("voice.left", gin.H{"channel_id": res.LeftChannel, "user_id": claims.Subject})
	}
	h.d.Gateway.BroadcastEvent("voice.joined", gin.H{"channel_id": c.Param("id"), "participants": res.Participants, "over_soft_cap": res.OverSoftCap})
	c.JSON(http.StatusOK, gin.H{
		"participants":  res.Participants,
		"over_soft_cap": res.OverSoftCap,
		"ice_servers":   h.d.TURN.ICEServers(claims.Subject, time.Now()),
	})
}

func (h *handlers) voiceLeave(c *gin.Context) {
	claims := ClaimsFrom(c)
	empty := h.d.Voice.Leave(c.Param("id"), claims.Subject)
	h.d.Gateway.BroadcastEvent("voice.left", gin.H{"channel_id": c.Param("id"), "user_id": claims.Subject, "channel_empty": empty})
	c.Status(http.StatusNoContent)
}

type voiceStateRequest struct {
	Muted    bool `json:"muted"`
	Deafened bool `json:"deafened"`
}

func (h *handlers) voiceState(c *gin.Context) {
	var req voiceStateRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	p, ok := h.d.Voice.SetState(c.Param("id"), claims.Subject, req.Muted, req.Deafened)
	if !ok {
		c.Error(notFound("voice participant"))
		return
	}
	h.d.Gateway.BroadcastEvent("voice.state", p)
	c.Status(http.StatusNoContent)
}
