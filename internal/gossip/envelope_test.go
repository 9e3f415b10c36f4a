package gossip

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	env := Sign(priv, pub, "abcd1234abcd1234/ch1", MessageTypeChat, 1000, 1, []byte("hello"))
	require.NoError(t, Verify(env))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	env := Sign(priv, pub, "topic", MessageTypeChat, 1, 1, []byte("hello"))
	env.Payload = []byte("tampered")
	require.ErrorIs(t, Verify(env), ErrInvalidSignature)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	env := Sign(priv, pub, "topic/ch", MessageTypeReact, 42, 7, []byte("payload-bytes"))
	data := Marshal(env)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, env.Topic, got.Topic)
	require.Equal(t, env.MessageType, got.MessageType)
	require.Equal(t, env.TimestampMs, got.TimestampMs)
	require.Equal(t, env.SequenceHint, got.SequenceHint)
	require.Equal(t, env.Payload, got.Payload)
	require.NoError(t, Verify(got))
}

func TestTopicForChannelTruncatesPrefix(t *testing.T) {
	topic := TopicForChannel("12QmSomeVeryLongPeerIdString", "chan-1")
	require.Equal(t, "12QmSomeVeryLong/chan-1", topic)
}
