package dm

import (
	"context"
	"testing"

	"github.com/llanx/UNITED/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(store.Config{Path: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return NewService(st)
}

func TestConversationParticipantsAreNormalized(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c1, err := s.GetOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", c1.ParticipantA)
	require.Equal(t, "bob", c1.ParticipantB)

	c2, err := s.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)
}

func TestSendAssignsMonotonicSequencePerConversation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	m1, err := s.Send(ctx, SendInput{ConversationID: conv.ID, Sender: "alice", Ciphertext: []byte("ct1"), Nonce: []byte("n1")})
	require.NoError(t, err)
	m2, err := s.Send(ctx, SendInput{ConversationID: conv.ID, Sender: "bob", Ciphertext: []byte("ct2"), Nonce: []byte("n2")})
	require.NoError(t, err)

	require.Equal(t, int64(1), m1.ServerSequence)
	require.Equal(t, int64(2), m2.ServerSequence)
}

func TestOfflineQueuePullMarksDelivered(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := s.Send(ctx, SendInput{ConversationID: conv.ID, Sender: "alice", Ciphertext: []byte("ct"), Nonce: []byte("n")})
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, "bob", msg.ID))

	entries, err := s.PullOffline(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, msg.ID, entries[0].DMMessageID)

	again, err := s.PullOffline(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestPutAndGetKey(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.PutKey(ctx, "edpub1", []byte("x25519bytes")))
	key, err := s.GetKey(ctx, "edpub1")
	require.NoError(t, err)
	require.Equal(t, []byte("x25519bytes"), key.X25519PubKey)
}
