package channels

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llanx/UNITED/internal/models"
)

func TestSendAssignsMonotonicSequence(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)

	first, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", SenderDisplayName: "alice", Content: "hi"})
	require.NoError(t, err)
	second, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "bb", SenderDisplayName: "bob", Content: "hello @user:aa"})
	require.NoError(t, err)

	assert.Equal(t, first.Message.ServerSequence+1, second.Message.ServerSequence)
	assert.Equal(t, []string{"@user:aa"}, second.Mentions)
}

func TestSendRejectsEmptyAndOversizeContent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)

	_, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: "   "})
	assert.Error(t, err)

	_, err = s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: strings.Repeat("x", maxMessageChars+1)})
	assert.Error(t, err)
}

func TestEditRequiresSenderMatch(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)
	msg, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: "hi"})
	require.NoError(t, err)

	err = s.Edit(ctx, msg.Message.ID, "bb", "new content")
	assert.Error(t, err)

	require.NoError(t, s.Edit(ctx, msg.Message.ID, "aa", "new content"))

	page, err := s.History(ctx, ch.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Edited)
	assert.Equal(t, "new content", page.Messages[0].ContentText)
}

func TestDeleteAllowsSenderOwnerOrAdmin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)
	msg, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: "hi"})
	require.NoError(t, err)

	err = s.Delete(ctx, msg.Message.ID, "bb", false)
	assert.Error(t, err)

	require.NoError(t, s.Delete(ctx, msg.Message.ID, "bb", true))

	page, err := s.History(ctx, ch.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Messages, "deleted messages are filtered from history")
}

func TestHistoryAttachesGroupedReactions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ch, _ := s.CreateChannel(ctx, "", "general", "", models.ChannelText, 0)
	msg, err := s.Send(ctx, SendInput{ChannelID: ch.ID, SenderPubKeyHex: "aa", Content: "hi"})
	require.NoError(t, err)

	_, err = s.AddReaction(ctx, msg.Message.ID, "bb", "👍")
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, msg.Message.ID, "cc", "👍")
	require.NoError(t, err)

	page, err := s.History(ctx, ch.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, 2, page.Messages[0].Reactions["👍"])
}
