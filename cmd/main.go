package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/llanx/UNITED/internal/blocks"
	"github.com/llanx/UNITED/internal/cache"
	"github.com/llanx/UNITED/internal/channels"
	"github.com/llanx/UNITED/internal/config"
	"github.com/llanx/UNITED/internal/dm"
	"github.com/llanx/UNITED/internal/gateway"
	"github.com/llanx/UNITED/internal/gossip"
	"github.com/llanx/UNITED/internal/httpapi"
	"github.com/llanx/UNITED/internal/identity"
	"github.com/llanx/UNITED/internal/logx"
	"github.com/llanx/UNITED/internal/moderation"
	"github.com/llanx/UNITED/internal/ratelimit"
	"github.com/llanx/UNITED/internal/store"
	"github.com/llanx/UNITED/internal/voice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "united: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logx.Initialize(cfg.LogLevel, cfg.JSONLogs)
	log := logx.Log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(store.Config{Path: filepath.Join(cfg.DataDir, "united.db")})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}

	jwtSecret, err := identity.LoadOrCreateSecret(filepath.Join(cfg.DataDir, "jwt_secret"))
	if err != nil {
		return err
	}
	encryptionKey, err := identity.LoadOrCreateSecret(filepath.Join(cfg.DataDir, "encryption_key"))
	if err != nil {
		return err
	}

	var mirror identity.Mirror
	if cfg.RedisAddr != "" {
		m := cache.NewChallengeMirror(cfg.RedisAddr, logx.Component("cache"))
		defer m.Close()
		mirror = m
	}

	challengeStore := identity.NewChallengeStore(mirror)
	tokens := identity.NewTokenManager(jwtSecret, cfg.ServerName)
	idService := identity.NewService(st, challengeStore, tokens)
	totp, err := identity.NewTOTPManager(encryptionKey, cfg.ServerName, st.Do)
	if err != nil {
		return err
	}

	if setupToken, err := idService.EnsureSetupToken(ctx); err != nil {
		return err
	} else if setupToken != "" {
		log.Info().Str("setup_token", setupToken).Msg("first boot: register the owner with this setup token")
	}

	channelSvc := channels.NewService(st)
	modSvc := moderation.NewService(st)
	dmSvc := dm.NewService(st)
	blockStore, err := blocks.NewStore(st, cfg.DataDir, cfg.BlockMaxBytes)
	if err != nil {
		return err
	}
	rooms := voice.NewRooms(cfg.VoiceHardCap)
	gw := gateway.New(logx.Component("gateway"))

	nodeKey, err := gossip.LoadOrCreateNodeKey(filepath.Join(cfg.DataDir, "p2p_identity.key"))
	if err != nil {
		return err
	}
	directory := gossip.NewDirectory()
	swarm, err := gossip.NewSwarm(ctx, nodeKey, cfg.GossipListenAddr, directory, logx.Component("gossip"))
	if err != nil {
		return err
	}
	go swarm.Run(ctx)

	bridge := gossip.NewBridge(swarm, logx.Component("gossip.bridge"))
	bridge.OnChannelMessage = func(ctx context.Context, channelID string, env gossip.Envelope) {
		if env.MessageType != gossip.MessageTypeChat {
			return
		}
		evt, err := channelSvc.IngestRemote(ctx, channelID,
			hex.EncodeToString(env.SenderPubKey), "", string(env.Payload),
			env.TimestampMs, env.SequenceHint)
		if err != nil {
			log.Warn().Err(err).Str("channel_id", channelID).Msg("persisting gossip message")
			return
		}
		gw.BroadcastEvent("message.new", evt)
	}
	go bridge.Run(ctx)

	// Re-join the topic of every channel that already exists.
	if existing, err := channelSvc.ListChannels(ctx); err != nil {
		log.Warn().Err(err).Msg("listing channels for gossip subscription")
	} else {
		ids := make([]string, 0, len(existing))
		for _, ch := range existing {
			ids = append(ids, ch.ID)
		}
		bridge.SubscribeChannels(ids)
	}

	authLimiter := ratelimit.NewAuthLimiter()
	identityLimiter := ratelimit.NewIdentityLimiter()

	deps := &httpapi.Deps{
		Store:      st,
		Identity:   idService,
		Tokens:     tokens,
		TOTP:       totp,
		Channels:   channelSvc,
		Moderation: modSvc,
		Blocks:     blockStore,
		Voice:      rooms,
		TURN: voice.TURNConfig{
			STUNURL:          "stun:stun.l.google.com:19302",
			TURNURL:          cfg.TURNAddr,
			TURNSharedSecret: cfg.TURNSharedSecret,
		},
		DM:        dmSvc,
		Gateway:   gw,
		Swarm:     swarm,
		Directory: directory,
		NodeKey:   nodeKey,

		AuthLimiter:     authLimiter,
		IdentityLimiter: identityLimiter,

		RegistrationMode: string(cfg.RegistrationMode),
		ServerName:       cfg.ServerName,
		ServerDesc:       cfg.ServerDescription,

		Log: logx.Component("http"),
	}
	httpapi.RegisterGatewayHandlers(deps)
	router := httpapi.NewRouter(deps)

	sched := cron.New()
	sweepLog := logx.Component("blocks.retention")
	sched.AddFunc(fmt.Sprintf("@every %ds", cfg.BlockCleanupInterval), func() {
		if err := blockStore.Sweep(ctx, sweepLog); err != nil {
			sweepLog.Error().Err(err).Msg("block retention sweep failed")
		}
	})
	reapLog := logx.Component("dm.reaper")
	sched.AddFunc("@every 6h", func() {
		if n, err := dmSvc.ReapOfflineQueue(ctx); err != nil {
			reapLog.Error().Err(err).Msg("offline queue reap failed")
		} else if n > 0 {
			reapLog.Info().Int64("deleted", n).Msg("reaped expired offline queue entries")
		}
	})
	sched.AddFunc("@every 1m", challengeStore.Sweep)
	sched.AddFunc("@every 10m", authLimiter.Prune)
	sched.AddFunc("@every 10m", identityLimiter.Prune)
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("peer_id", swarm.PeerID()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	return nil
}
