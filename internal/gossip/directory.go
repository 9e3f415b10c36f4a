package gossip

import (
	"sync"
	"time"
)

// PeerInfo is one entry of the peer directory: the platform identity and
// mesh state learned about a libp2p peer.
type PeerInfo struct {
	PeerID           string
	Fingerprint      string // empty until RegisterPeerId binds it
	Multiaddrs       []string
	SubscribedTopics map[string]struct{}
	NATType          string
	LastSeen         time.Time
}

// Directory maintains peer_id -> PeerInfo plus the reverse fingerprint ->
// peer_id index. It is populated by three independent
// signals — libp2p identify, gossipsub subscribe/unsubscribe, and an
// authenticated WebSocket RegisterPeerId message — applied in the order
// observed.
type Directory struct {
	mu           sync.Mutex
	peers        map[string]*PeerInfo
	byFingerprint map[string]string
}

func NewDirectory() *Directory {
	return &Directory{
		peers:         make(map[string]*PeerInfo),
		byFingerprint: make(map[string]string),
	}
}

func (d *Directory) getOrCreateLocked(peerID string) *PeerInfo {
	p, ok := d.peers[peerID]
	if !ok {
		p = &PeerInfo{PeerID: peerID, SubscribedTopics: make(map[string]struct{})}
		d.peers[peerID] = p
	}
	return p
}

// Identify records addresses and NAT hints learned from the libp2p identify
// protocol.
func (d *Directory) Identify(peerID string, multiaddrs []string, natType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.getOrCreateLocked(peerID)
	p.Multiaddrs = multiaddrs
	if natType != "" {
		p.NATType = natType
	}
	p.LastSeen = time.Now()
}

// Subscribe/Unsubscribe track gossipsub topic membership per peer.
func (d *Directory) Subscribe(peerID, topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.getOrCreateLocked(peerID)
	p.SubscribedTopics[topic] = struct{}{}
	p.LastSeen = time.Now()
}

func (d *Directory) Unsubscribe(peerID, topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[peerID]; ok {
		delete(p.SubscribedTopics, topic)
	}
}

// RegisterPeerID binds an authenticated user's fingerprint to their libp2p
// peer id, the third population signal.
func (d *Directory) RegisterPeerID(peerID, fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.getOrCreateLocked(peerID)
	if p.Fingerprint != "" {
		delete(d.byFingerprint, p.Fingerprint)
	}
	p.Fingerprint = fingerprint
	d.byFingerprint[fingerprint] = peerID
	p.LastSeen = time.Now()
}

// Remove drops a peer's entry entirely, called on disconnect.
func (d *Directory) Remove(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[peerID]; ok {
		if p.Fingerprint != "" {
			delete(d.byFingerprint, p.Fingerprint)
		}
		delete(d.peers, peerID)
	}
}

// Get returns a copy of the peer's info, if known.
func (d *Directory) Get(peerID string) (PeerInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return cloneInfo(p), true
}

// PeerIDForFingerprint resolves a user's fingerprint to the peer id that
// last bound it, if any.
func (d *Directory) PeerIDForFingerprint(fingerprint string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byFingerprint[fingerprint]
	return id, ok
}

// PeersForTopics returns every peer subscribed to at least one of the
// given topic strings; a PeerDirectoryRequest(channel_ids) caller maps its
// channel ids to topics with TopicForChannel first.
func (d *Directory) PeersForTopics(topics []string) []PeerInfo {
	want := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		want[t] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []PeerInfo
	for _, p := range d.peers {
		for t := range p.SubscribedTopics {
			if _, ok := want[t]; ok {
				out = append(out, cloneInfo(p))
				break
			}
		}
	}
	return out
}

func cloneInfo(p *PeerInfo) PeerInfo {
	cp := *p
	cp.Multiaddrs = append([]string(nil), p.Multiaddrs...)
	cp.SubscribedTopics = make(map[string]struct{}, len(p.SubscribedTopics))
	for t := range p.SubscribedTopics {
		cp.SubscribedTopics[t] = struct{}{}
	}
	return cp
}
