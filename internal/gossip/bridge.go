package gossip

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Bridge drains the swarm's event channel and hands verified channel
// messages back to the rest of the process. The callbacks are plain
// functions rather than interfaces so this package never imports the
// message store or the connection registry; process wiring supplies
// closures over both.
type Bridge struct {
	swarm *Swarm
	log   zerolog.Logger

	// OnChannelMessage receives every verified envelope whose topic maps
	// to a local channel. A nil callback drops the message.
	OnChannelMessage func(ctx context.Context, channelID string, env Envelope)

	OnPeerConnected    func(peerID string)
	OnPeerDisconnected func(peerID string)
}

func NewBridge(swarm *Swarm, log zerolog.Logger) *Bridge {
	return &Bridge{swarm: swarm, log: log}
}

// ChannelIDFromTopic extracts the channel id suffix from a
// "{peer prefix}/{channel_id}" topic string.
func ChannelIDFromTopic(topic string) (string, bool) {
	i := strings.IndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return "", false
	}
	return topic[i+1:], true
}

// SubscribeChannels posts a subscribe command for every given channel id,
// used at startup to re-join the topic of each existing channel.
func (b *Bridge) SubscribeChannels(channelIDs []string) {
	peerID := b.swarm.PeerID()
	for _, id := range channelIDs {
		b.swarm.Commands <- Command{Kind: CmdSubscribeTopic, Topic: TopicForChannel(peerID, id)}
	}
}

// Run consumes swarm events until ctx is cancelled. Malformed topics are
// dropped with a warning; they are a mesh-level anomaly, never fatal.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.swarm.Events:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventGossipMessage:
		channelID, ok := ChannelIDFromTopic(ev.Envelope.Topic)
		if !ok {
			b.log.Warn().Str("topic", ev.Envelope.Topic).Msg("gossip: topic has no channel suffix")
			return
		}
		if b.OnChannelMessage != nil {
			b.OnChannelMessage(ctx, channelID, ev.Envelope)
		}
	case EventPeerConnected:
		b.log.Debug().Str("peer_id", ev.PeerID).Msg("gossip: peer connected")
		if b.OnPeerConnected != nil {
			b.OnPeerConnected(ev.PeerID)
		}
	case EventPeerDisconnected:
		b.log.Debug().Str("peer_id", ev.PeerID).Msg("gossip: peer disconnected")
		if b.OnPeerDisconnected != nil {
			b.OnPeerDisconnected(ev.PeerID)
		}
	}
}
