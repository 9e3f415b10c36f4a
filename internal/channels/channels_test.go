package channels

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Config{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return NewService(st)
}

func TestCreateAndListChannels(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, "", "general", "chat about anything", models.ChannelText, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)

	list, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "general", list[0].Name)
}

func TestReorderChannels(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	a, _ := s.CreateChannel(ctx, "", "a", "", models.ChannelText, 0)
	b, _ := s.CreateChannel(ctx, "", "b", "", models.ChannelText, 1)

	require.NoError(t, s.Reorder(ctx, []string{b.ID, a.ID}))

	list, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestExtractMentions(t *testing.T) {
	got := extractMentions("hello @user:alice and @role:mods check this out")
	assert.Equal(t, []string{"@user:alice", "@role:mods"}, got)
}
