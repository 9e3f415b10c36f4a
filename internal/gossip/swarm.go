package gossip

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/rs/zerolog"
)

// MaxMessageSize is the gossipsub transport ceiling.
const MaxMessageSize = 64 << 10

// Command is the tagged union of requests the rest of the process may post
// to the swarm task
// libp2p node and communicates with the rest of the process over two
// channels: commands in, events out").
type Command struct {
	Kind         CommandKind
	Topic        string
	Publish      []byte
	ReplyPeer    chan<- PeerSummary
	ReplyTopic   chan<- []string
}

type CommandKind int

const (
	CmdSubscribeTopic CommandKind = iota
	CmdUnsubscribeTopic
	CmdPublish
	CmdGetPeerInfo
	CmdGetTopicPeers
)

// Event is the tagged union the swarm task emits.
type Event struct {
	Kind     EventKind
	Envelope Envelope
	PeerID   string
	Topic    string
}

type EventKind int

const (
	EventGossipMessage EventKind = iota
	EventPeerConnected
	EventPeerDisconnected
)

// PeerSummary answers a GetPeerInfo command.
type PeerSummary struct {
	PeerID     string
	Multiaddrs []string
}

// Swarm owns the libp2p host and gossipsub router exclusively; every other
// component interacts with it only through Commands/Events.
type Swarm struct {
	host      host.Host
	ps        *pubsub.PubSub
	directory *Directory
	log       zerolog.Logger

	mu     sync.Mutex
	topics map[string]*joinedTopic

	Commands chan Command
	Events   chan Event
}

type joinedTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	stop  chan struct{}
}

// NewSwarm builds the libp2p host and gossipsub router: mesh degree D=4
// (low 3, high 8), 64 KiB max transmit, content-hash message ids (dedup),
// strict signature validation, and peer scoring rewarding time-in-mesh and
// first-delivery while penalizing invalid signatures.
func NewSwarm(ctx context.Context, priv ed25519.PrivateKey, listenAddr string, directory *Directory, log zerolog.Logger) (*Swarm, error) {
	libp2pKey, err := ToLibp2pKey(priv)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(libp2pKey),
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("gossip: creating libp2p host: %w", err)
	}

	params := pubsub.DefaultGossipSubParams()
	params.D = 4
	params.Dlo = 3
	params.Dhi = 8

	scoreParams := &pubsub.PeerScoreParams{
		AppSpecificScore: func(p peer.ID) float64 { return 0 },
		Topics:           make(map[string]*pubsub.TopicScoreParams),
		TopicScoreCap:    10,
		DecayInterval:    time.Second,
		DecayToZero:      0.01,
	}
	scoreThresholds := &pubsub.PeerScoreThresholds{
		GossipThreshold:   -10,
		PublishThreshold:  -50,
		GraylistThreshold: -80,
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithGossipSubParams(params),
		pubsub.WithMaxMessageSize(MaxMessageSize),
		pubsub.WithMessageIdFn(contentHashMessageID),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithPeerScore(scoreParams, scoreThresholds),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("gossip: creating gossipsub router: %w", err)
	}

	s := &Swarm{
		host:      h,
		ps:        ps,
		directory: directory,
		log:       log,
		topics:    make(map[string]*joinedTopic),
		Commands:  make(chan Command, 64),
		Events:    make(chan Event, 256),
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			pid := c.RemotePeer().String()
			s.directory.Identify(pid, []string{c.RemoteMultiaddr().String()}, "")
			s.emit(Event{Kind: EventPeerConnected, PeerID: pid})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			pid := c.RemotePeer().String()
			s.directory.Remove(pid)
			s.emit(Event{Kind: EventPeerDisconnected, PeerID: pid})
		},
	})

	return s, nil
}

// PeerID returns this node's own libp2p peer id, used to build topic names
// via TopicForChannel.
func (s *Swarm) PeerID() string { return s.host.ID().String() }

// channelTopicScoreParams rewards time-in-mesh and first delivery per
// topic while penalizing peers that relay envelopes failing validation.
func channelTopicScoreParams() *pubsub.TopicScoreParams {
	return &pubsub.TopicScoreParams{
		TopicWeight:                     1,
		TimeInMeshWeight:                0.01,
		TimeInMeshQuantum:               time.Second,
		TimeInMeshCap:                   10,
		FirstMessageDeliveriesWeight:    1,
		FirstMessageDeliveriesDecay:     0.5,
		FirstMessageDeliveriesCap:       10,
		InvalidMessageDeliveriesWeight:  -10,
		InvalidMessageDeliveriesDecay:   0.5,
	}
}

func contentHashMessageID(m *pb.Message) string {
	sum := sha256.Sum256(m.Data)
	return hex.EncodeToString(sum[:])
}

func (s *Swarm) emit(e Event) {
	select {
	case s.Events <- e:
	default:
		s.log.Warn().Msg("gossip: event channel full, dropping event")
	}
}

// Run processes Commands until ctx is cancelled. The swarm goroutine is
// the only code that touches the host or router after construction.
func (s *Swarm) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAllTopics()
			s.host.Close()
			return
		case cmd := <-s.Commands:
			s.handle(ctx, cmd)
		}
	}
}

func (s *Swarm) handle(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdSubscribeTopic:
		if err := s.subscribe(ctx, cmd.Topic); err != nil {
			s.log.Warn().Err(err).Str("topic", cmd.Topic).Msg("gossip: subscribe failed")
		}
	case CmdUnsubscribeTopic:
		s.unsubscribe(cmd.Topic)
	case CmdPublish:
		s.publish(ctx, cmd.Topic, cmd.Publish)
	case CmdGetPeerInfo:
		if cmd.ReplyPeer != nil {
			var addrs []string
			for _, a := range s.host.Addrs() {
				addrs = append(addrs, a.String())
			}
			cmd.ReplyPeer <- PeerSummary{PeerID: s.host.ID().String(), Multiaddrs: addrs}
		}
	case CmdGetTopicPeers:
		if cmd.ReplyTopic != nil {
			s.mu.Lock()
			jt, ok := s.topics[cmd.Topic]
			s.mu.Unlock()
			var ids []string
			if ok {
				for _, p := range jt.topic.ListPeers() {
					ids = append(ids, p.String())
				}
			}
			cmd.ReplyTopic <- ids
		}
	}
}

func (s *Swarm) subscribe(ctx context.Context, topicName string) error {
	s.mu.Lock()
	if _, ok := s.topics[topicName]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	topic, err := s.ps.Join(topicName)
	if err != nil {
		return fmt.Errorf("joining topic %s: %w", topicName, err)
	}
	if err := topic.SetScoreParams(channelTopicScoreParams()); err != nil {
		s.log.Warn().Err(err).Str("topic", topicName).Msg("gossip: setting topic score params")
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("subscribing to %s: %w", topicName, err)
	}

	jt := &joinedTopic{topic: topic, sub: sub, stop: make(chan struct{})}
	s.mu.Lock()
	s.topics[topicName] = jt
	s.mu.Unlock()

	go s.readLoop(ctx, topicName, jt)
	return nil
}

func (s *Swarm) readLoop(ctx context.Context, topicName string, jt *joinedTopic) {
	for {
		msg, err := jt.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue // gossipsub already drops self but guard defensively
		}
		env, err := Unmarshal(msg.Data)
		if err != nil {
			s.log.Warn().Err(err).Str("topic", topicName).Msg("gossip: malformed envelope")
			continue
		}
		if err := Verify(env); err != nil {
			s.log.Warn().Err(err).Str("topic", topicName).Msg("gossip: signature verification failed")
			continue
		}
		s.directory.Subscribe(msg.ReceivedFrom.String(), topicName)
		s.emit(Event{Kind: EventGossipMessage, Envelope: env, PeerID: msg.ReceivedFrom.String(), Topic: topicName})
	}
}

func (s *Swarm) unsubscribe(topicName string) {
	s.mu.Lock()
	jt, ok := s.topics[topicName]
	if ok {
		delete(s.topics, topicName)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	jt.sub.Cancel()
	jt.topic.Close()
}

func (s *Swarm) publish(ctx context.Context, topicName string, data []byte) {
	s.mu.Lock()
	jt, ok := s.topics[topicName]
	s.mu.Unlock()
	if !ok {
		s.log.Warn().Str("topic", topicName).Msg("gossip: publish to unsubscribed topic")
		return
	}
	if err := jt.topic.Publish(ctx, data); err != nil {
		s.log.Warn().Err(err).Str("topic", topicName).Msg("gossip: publish failed")
	}
}

func (s *Swarm) closeAllTopics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, jt := range s.topics {
		jt.sub.Cancel()
		jt.topic.Close()
		delete(s.topics, name)
	}
}
