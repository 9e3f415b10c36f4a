package httpapi

import (
	"crypto/ed25519"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/llanx/UNITED/internal/blocks"
	"github.com/llanx/UNITED/internal/channels"
	"github.com/llanx/UNITED/internal/dm"
	"github.com/llanx/UNITED/internal/gateway"
	"github.com/llanx/UNITED/internal/gossip"
	"github.com/llanx/UNITED/internal/identity"
	"github.com/llanx/UNITED/internal/moderation"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/ratelimit"
	"github.com/llanx/UNITED/internal/store"
	"github.com/llanx/UNITED/internal/voice"
)

// Deps bundles every service the router wires together. One value is
// built at process startup (cmd/main.go) and threaded through explicitly;
// no package-level mutable state.
type Deps struct {
	Store      *store.Store
	Identity   *identity.Service
	Tokens     *identity.TokenManager
	TOTP       *identity.TOTPManager
	Channels   *channels.Service
	Moderation *moderation.Service
	Blocks     *blocks.Store
	Voice      *voice.Rooms
	TURN       voice.TURNConfig
	DM         *dm.Service
	Gateway    *gateway.Gateway
	Swarm      *gossip.Swarm
	Directory  *gossip.Directory
	NodeKey    ed25519.PrivateKey

	AuthLimiter     *ratelimit.Limiter
	IdentityLimiter *ratelimit.Limiter

	RegistrationMode string
	ServerName       string
	ServerDesc       string

	Log zerolog.Logger
}

// NewRouter assembles the gin engine with the full HTTP surface.
func NewRouter(d *Deps) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(d.Log), Recovery(d.Log), ErrorHandler(d.Log))

	h := &handlers{d: d}

	r.GET("/health", h.health)
	r.GET("/api/server/info", h.serverInfo)
	r.PUT("/api/server/settings", AuthRequired(d.Tokens), RequirePermission(d.Moderation, models.PermAdmin), h.updateServerSettings)

	auth := r.Group("/api/auth")
	auth.Use(RateLimit(d.AuthLimiter))
	{
		auth.POST("/challenge", h.issueChallenge)
		auth.POST("/verify", h.verify)
		auth.POST("/register", h.register)
		auth.POST("/refresh", h.refresh)
		auth.POST("/totp/enroll", AuthRequired(d.Tokens), h.totpEnroll)
		auth.POST("/totp/confirm", AuthRequired(d.Tokens), h.totpConfirm)
		auth.POST("/totp/verify", h.totpVerify)
	}

	identityGroup := r.Group("/api/identity")
	{
		identityGroup.GET("/blob/:fp", RateLimit(d.IdentityLimiter), h.getBlob)
		identityGroup.PUT("/blob", AuthRequired(d.Tokens), h.putBlob)
		identityGroup.POST("/rotate", AuthRequired(d.Tokens), h.rotate)
		identityGroup.POST("/rotate/cancel", AuthRequired(d.Tokens), h.cancelRotation)
		identityGroup.GET("/rotation-chain/:fp", RateLimit(d.IdentityLimiter), h.rotationChain)
	}

	authed := r.Group("/api")
	authed.Use(AuthRequired(d.Tokens))
	{
		authed.GET("/channels", h.listChannels)
		authed.POST("/channels", RequirePermission(d.Moderation, models.PermManageChannels), h.createChannel)
		authed.PUT("/channels/reorder", RequirePermission(d.Moderation, models.PermManageChannels), h.reorderChannels)
		authed.PUT("/channels/:id", RequirePermission(d.Moderation, models.PermManageChannels), h.updateChannel)
		authed.DELETE("/channels/:id", RequirePermission(d.Moderation, models.PermManageChannels), h.deleteChannel)

		authed.POST("/categories", RequirePermission(d.Moderation, models.PermManageChannels), h.createCategory)
		authed.DELETE("/categories/:id", RequirePermission(d.Moderation, models.PermManageChannels), h.deleteCategory)

		authed.POST("/channels/:id/messages", h.sendMessage)
		authed.GET("/channels/:id/messages", h.listMessages)
		authed.PUT("/channels/:id/messages/:mid", h.editMessage)
		authed.DELETE("/channels/:id/messages/:mid", h.deleteMessage)

		authed.POST("/messages/:mid/reactions", h.addReaction)
		authed.DELETE("/messages/:mid/reactions/:emoji", h.removeReaction)
		authed.GET("/messages/:mid/reactions", h.listReactions)

		authed.PUT("/channels/:id/last-read", h.setLastRead)
		authed.GET("/channels/:id/last-read", h.getLastRead)

		authed.GET("/presence", h.presence)
		authed.POST("/presence", h.setPresence)
		authed.POST("/typing", h.typing)

		authed.POST("/dm/conversations", h.createDMConversation)
		authed.GET("/dm/conversations", h.listDMConversations)
		authed.POST("/dm/messages", h.sendDMMessage)
		authed.GET("/dm/messages/:id", h.getDMMessage)
		authed.POST("/dm/keys", h.putDMKey)
		authed.GET("/dm/keys/:fp", h.getDMKey)
		authed.GET("/dm/offline", h.pullDMOffline)
		authed.POST("/dm/offline/ack", h.ackDMOffline)

		authed.PUT("/blocks", h.putBlock)
		authed.GET("/blocks/:hash", h.getBlock)

		authed.POST("/moderation/kick", RequirePermission(d.Moderation, models.PermKick), h.kick)
		authed.POST("/moderation/ban", RequirePermission(d.Moderation, models.PermBan), h.ban)
		authed.POST("/moderation/unban", RequirePermission(d.Moderation, models.PermBan), h.unban)
		authed.GET("/moderation/bans", RequirePermission(d.Moderation, models.PermBan), h.listBans)

		authed.POST("/invites", RequirePermission(d.Moderation, models.PermAdmin), h.createInvite)
		authed.GET("/invites", RequirePermission(d.Moderation, models.PermAdmin), h.listInvites)
		authed.DELETE("/invites/:code", RequirePermission(d.Moderation, models.PermAdmin), h.deleteInvite)

		authed.POST("/voice/:id/join", h.voiceJoin)
		authed.POST("/voice/:id/leave", h.voiceLeave)
		authed.POST("/voice/:id/state", h.voiceState)
	}

	r.GET("/invite/:code", h.inviteLanding)
	r.GET("/ws", h.websocketUpgrade)

	return r
}
