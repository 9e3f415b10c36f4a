// Package gossip implements libp2p gossipsub mesh participation: envelope
// signing/verification, topic namespacing, a long-running swarm task that
// owns the libp2p node, and a peer directory joining libp2p identity with
// this platform's fingerprints.
package gossip

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the gossip envelope's tagged-union discriminator.
type MessageType uint32

const (
	MessageTypeChat   MessageType = 1
	MessageTypeSystem MessageType = 2
	MessageTypeEdit   MessageType = 3
	MessageTypeDelete MessageType = 4
	MessageTypeReact  MessageType = 5
)

// Envelope is the signed unit carried over a gossipsub topic.
type Envelope struct {
	SenderPubKey []byte
	Signature    []byte
	Topic        string
	MessageType  MessageType
	TimestampMs  int64
	SequenceHint int64
	Payload      []byte
}

var ErrInvalidSignature = errors.New("gossip: signature verification failed")

// signedBytes returns the canonical bytes the sender signs: the
// concatenation of fields 3-7 (topic, message_type, timestamp_ms,
// sequence_hint, payload) in their big-endian binary form. message_type is
// 4 bytes; timestamp_ms and sequence_hint are each 8 bytes.
func signedBytes(topic string, msgType MessageType, tsMs, seqHint int64, payload []byte) []byte {
	buf := make([]byte, 0, len(topic)+4+8+8+len(payload))
	buf = append(buf, []byte(topic)...)
	var mt [4]byte
	binary.BigEndian.PutUint32(mt[:], uint32(msgType))
	buf = append(buf, mt[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(tsMs))
	buf = append(buf, ts[:]...)
	var sh [8]byte
	binary.BigEndian.PutUint64(sh[:], uint64(seqHint))
	buf = append(buf, sh[:]...)
	buf = append(buf, payload...)
	return buf
}

// Sign produces a fully populated, signed Envelope.
func Sign(priv ed25519.PrivateKey, pub ed25519.PublicKey, topic string, msgType MessageType, tsMs, seqHint int64, payload []byte) Envelope {
	msg := signedBytes(topic, msgType, tsMs, seqHint, payload)
	return Envelope{
		SenderPubKey: append([]byte(nil), pub...),
		Signature:    ed25519.Sign(priv, msg),
		Topic:        topic,
		MessageType:  msgType,
		TimestampMs:  tsMs,
		SequenceHint: seqHint,
		Payload:      payload,
	}
}

// Verify re-derives the signed bytes and checks the signature against the
// envelope's own sender key. Every receiver does this independently
//; failure means drop-and-log, never a hard error that
// propagates.
func Verify(e Envelope) error {
	if len(e.SenderPubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("gossip: bad sender key length %d", len(e.SenderPubKey))
	}
	msg := signedBytes(e.Topic, e.MessageType, e.TimestampMs, e.SequenceHint, e.Payload)
	if !ed25519.Verify(ed25519.PublicKey(e.SenderPubKey), msg, e.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Marshal/Unmarshal use a small length-prefixed binary layout, the same
// frame discipline internal/gateway uses for the WebSocket envelope.
func Marshal(e Envelope) []byte {
	buf := make([]byte, 0, 64+len(e.Payload))
	buf = appendLP(buf, e.SenderPubKey)
	buf = appendLP(buf, e.Signature)
	buf = appendLP(buf, []byte(e.Topic))
	var mt [4]byte
	binary.BigEndian.PutUint32(mt[:], uint32(e.MessageType))
	buf = append(buf, mt[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.TimestampMs))
	buf = append(buf, ts[:]...)
	var sh [8]byte
	binary.BigEndian.PutUint64(sh[:], uint64(e.SequenceHint))
	buf = append(buf, sh[:]...)
	buf = appendLP(buf, e.Payload)
	return buf
}

func appendLP(buf, field []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(field)))
	buf = append(buf, l[:]...)
	return append(buf, field...)
}

func readLP(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, errors.New("gossip: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, errors.New("gossip: truncated field")
	}
	return b[:n], b[n:], nil
}

func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	senderPubKey, rest, err := readLP(data)
	if err != nil {
		return e, err
	}
	sig, rest, err := readLP(rest)
	if err != nil {
		return e, err
	}
	topic, rest, err := readLP(rest)
	if err != nil {
		return e, err
	}
	if len(rest) < 4+8+8 {
		return e, errors.New("gossip: truncated fixed fields")
	}
	msgType := binary.BigEndian.Uint32(rest[:4])
	tsMs := binary.BigEndian.Uint64(rest[4:12])
	seqHint := binary.BigEndian.Uint64(rest[12:20])
	rest = rest[20:]
	payload, _, err := readLP(rest)
	if err != nil {
		return e, err
	}
	e.SenderPubKey = senderPubKey
	e.Signature = sig
	e.Topic = string(topic)
	e.MessageType = MessageType(msgType)
	e.TimestampMs = int64(tsMs)
	e.SequenceHint = int64(seqHint)
	e.Payload = payload
	return e, nil
}

// TopicForChannel builds the topic string: the first 16 characters of the
// server's libp2p peer id, then the channel id.
func TopicForChannel(serverPeerID, channelID string) string {
	prefix := serverPeerID
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return prefix + "/" + channelID
}
