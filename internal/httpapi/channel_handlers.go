package httpapi

import (
	"crypto/ed25519"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llanx/UNITED/internal/channels"
	"github.com/llanx/UNITED/internal/gateway"
	"github.com/llanx/UNITED/internal/gossip"
	"github.com/llanx/UNITED/internal/models"
)

func (h *handlers) listChannels(c *gin.Context) {
	chans, err := h.d.Channels.ListChannels(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

type createChannelRequest struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name" binding:"required"`
	Topic      string `json:"topic"`
	Type       string `json:"type"`
	Position   int64  `json:"position"`
}

func (h *handlers) createChannel(c *gin.Context) {
	var req createChannelRequest
	if !bindJSON(c, &req) {
		return
	}
	chType := models.ChannelType(req.Type)
	ch, err := h.d.Channels.CreateChannel(c.Request.Context(), req.CategoryID, req.Name, req.Topic, chType, req.Position)
	if err != nil {
		c.Error(err)
		return
	}
	if h.d.Swarm != nil {
		h.d.Swarm.Commands <- gossip.Command{Kind: gossip.CmdSubscribeTopic, Topic: gossip.TopicForChannel(h.d.Swarm.PeerID(), ch.ID)}
	}
	c.JSON(http.StatusCreated, ch)
}

type updateChannelRequest struct {
	Name  string `json:"name"`
	Topic string `json:"topic"`
}

func (h *handlers) updateChannel(c *gin.Context) {
	var req updateChannelRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.d.Channels.UpdateChannel(c.Request.Context(), c.Param("id"), req.Name, req.Topic); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) deleteChannel(c *gin.Context) {
	id := c.Param("id")
	if err := h.d.Channels.DeleteChannel(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	if h.d.Swarm != nil {
		h.d.Swarm.Commands <- gossip.Command{Kind: gossip.CmdUnsubscribeTopic, Topic: gossip.TopicForChannel(h.d.Swarm.PeerID(), id)}
	}
	c.Status(http.StatusNoContent)
}

type reorderChannelsRequest struct {
	OrderedIDs []string `json:"ordered_ids" binding:"required"`
}

func (h *handlers) reorderChannels(c *gin.Context) {
	var req reorderChannelsRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.d.Channels.Reorder(c.Request.Context(), req.OrderedIDs); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createCategoryRequest struct {
	Name     string `json:"name" binding:"required"`
	Position int64  `json:"position"`
}

func (h *handlers) createCategory(c *gin.Context) {
	var req createCategoryRequest
	if !bindJSON(c, &req) {
		return
	}
	cat, err := h.d.Channels.CreateCategory(c.Request.Context(), req.Name, req.Position)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *handlers) deleteCategory(c *gin.Context) {
	if err := h.d.Channels.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content      string `json:"content" binding:"required"`
	SequenceHint int64  `json:"sequence_hint"`
	ReplyToID    *int64 `json:"reply_to_id"`
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	in := channels.SendInput{
		ChannelID:         c.Param("id"),
		SenderPubKeyHex:   claims.Fingerprint,
		SenderDisplayName: h.displayNameFor(c.Request.Context(), claims.Subject),
		Content:           req.Content,
		SequenceHint:      req.SequenceHint,
		ReplyToID:         req.ReplyToID,
	}
	evt, err := h.d.Channels.Send(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}
	h.d.Gateway.BroadcastEvent("message.new", evt)
	h.publishGossip(in.ChannelID, evt)
	c.JSON(http.StatusCreated, evt)
}

func (h *handlers) listMessages(c *gin.Context) {
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.d.Channels.History(c.Request.Context(), c.Param("id"), before, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *handlers) editMessage(c *gin.Context) {
	var req editMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.Error(badRequest("invalid message id"))
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.Channels.Edit(c.Request.Context(), mid, claims.Fingerprint, req.Content); err != nil {
		c.Error(err)
		return
	}
	h.d.Gateway.BroadcastEvent("message.edited", gin.H{"message_id": mid, "content": req.Content})
	c.Status(http.StatusNoContent)
}

func (h *handlers) deleteMessage(c *gin.Context) {
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.Error(badRequest("invalid message id"))
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.Channels.Delete(c.Request.Context(), mid, claims.Fingerprint, claims.IsOwner || claims.IsAdmin); err != nil {
		c.Error(err)
		return
	}
	h.d.Gateway.BroadcastEvent("message.deleted", gin.H{"message_id": mid})
	c.Status(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h *handlers) addReaction(c *gin.Context) {
	var req reactionRequest
	if !bindJSON(c, &req) {
		return
	}
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.Error(badRequest("invalid message id"))
		return
	}
	claims := ClaimsFrom(c)
	evt, err := h.d.Channels.AddReaction(c.Request.Context(), mid, claims.Fingerprint, req.Emoji)
	if err != nil {
		c.Error(err)
		return
	}
	h.d.Gateway.BroadcastEvent("reaction.add", evt)
	c.JSON(http.StatusCreated, evt)
}

func (h *handlers) removeReaction(c *gin.Context) {
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.Error(badRequest("invalid message id"))
		return
	}
	claims := ClaimsFrom(c)
	evt, err := h.d.Channels.RemoveReaction(c.Request.Context(), mid, claims.Fingerprint, c.Param("emoji"))
	if err != nil {
		c.Error(err)
		return
	}
	h.d.Gateway.BroadcastEvent("reaction.remove", evt)
	c.Status(http.StatusNoContent)
}

func (h *handlers) listReactions(c *gin.Context) {
	mid, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		c.Error(badRequest("invalid message id"))
		return
	}
	counts, err := h.d.Channels.ListReactions(c.Request.Context(), mid)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": counts})
}

type lastReadRequest struct {
	LastSequence int64 `json:"last_sequence"`
}

func (h *handlers) setLastRead(c *gin.Context) {
	var req lastReadRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	if err := h.d.Channels.SetLastRead(c.Request.Context(), claims.Subject, c.Param("id"), req.LastSequence); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) getLastRead(c *gin.Context) {
	claims := ClaimsFrom(c)
	seq, err := h.d.Channels.GetLastRead(c.Request.Context(), claims.Subject, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_sequence": seq})
}

func (h *handlers) presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.d.Gateway.Registry.OnlineUserIDs()})
}

type setPresenceRequest struct {
	Status int `json:"status" binding:"required"`
}

func (h *handlers) setPresence(c *gin.Context) {
	var req setPresenceRequest
	if !bindJSON(c, &req) {
		return
	}
	status := gateway.Status(req.Status)
	if status < gateway.StatusOnline || status > gateway.StatusOffline {
		c.Error(badRequest("status must be 1 (online), 2 (away), 3 (dnd), or 4 (offline)"))
		return
	}
	claims := ClaimsFrom(c)
	prev := h.d.Gateway.Presence.Set(claims.Subject, status)
	if prev != status {
		h.d.Gateway.BroadcastEvent("presence", gin.H{"user_id": claims.Subject, "status": req.Status})
	}
	c.Status(http.StatusNoContent)
}

type typingRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
}

func (h *handlers) typing(c *gin.Context) {
	var req typingRequest
	if !bindJSON(c, &req) {
		return
	}
	claims := ClaimsFrom(c)
	h.d.Gateway.BroadcastEvent("typing", gin.H{"channel_id": req.ChannelID, "user_id": claims.Subject})
	c.Status(http.StatusNoContent)
}

// publishGossip fans a just-persisted local message out to the mesh so
// federated peers subscribed to the channel's topic converge on it
//. Best-effort: a publish failure never fails the HTTP call
// since the message is already durably stored locally.
func (h *handlers) publishGossip(channelID string, evt *channels.NewMessageEvent) {
	if h.d.Swarm == nil || h.d.NodeKey == nil {
		return
	}
	topic := gossip.TopicForChannel(h.d.Swarm.PeerID(), channelID)
	pub := h.d.NodeKey.Public().(ed25519.PublicKey)
	env := gossip.Sign(h.d.NodeKey, pub, topic, gossip.MessageTypeChat, evt.Message.TsMs, evt.Message.SequenceHint, []byte(evt.Message.ContentText))
	h.d.Swarm.Commands <- gossip.Command{
		Kind:    gossip.CmdPublish,
		Topic:   topic,
		Publish: gossip.Marshal(env),
	}
}
