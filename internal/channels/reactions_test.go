package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llanx/UNITED/internal/models"
)

func TestAddReactionIsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)
	msg, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: "hi"})
	require.NoError(t, err)

	_, err = s.AddReaction(ctx, msg.Message.ID, "bb", "👍")
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, msg.Message.ID, "bb", "👍")
	require.NoError(t, err, "duplicate add must not error")

	counts, err := s.ListReactions(ctx, msg.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["👍"])
}

func TestRemoveReactionRequiresOwnership(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)
	msg, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: "hi"})
	require.NoError(t, err)

	_, err = s.AddReaction(ctx, msg.Message.ID, "bb", "👍")
	require.NoError(t, err)

	_, err = s.RemoveReaction(ctx, msg.Message.ID, "cc", "👍")
	assert.Error(t, err, "removing a reaction you never added is not found")

	_, err = s.RemoveReaction(ctx, msg.Message.ID, "bb", "👍")
	assert.NoError(t, err)
}
