package moderation

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestBanAndUnban(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	banned, err := s.IsBanned(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.Ban(ctx, "fp-1", "spam", nil, "moderator-1"))
	banned, err = s.IsBanned(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, s.Unban(ctx, "fp-1", "moderator-1"))
	banned, err = s.IsBanned(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestIsBannedPurgesExpiredBans(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, s.Ban(ctx, "fp-2", "temp", &past, ""))

	banned, err := s.IsBanned(ctx, "fp-2")
	require.NoError(t, err)
	assert.False(t, banned)

	bans, err := s.ListBans(ctx)
	require.NoError(t, err)
	assert.Empty(t, bans, "expired ban should be purged on read")
}

func TestConsumeInviteEnforcesMaxUsesAndExpiry(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	maxUses := 1

	// invites.created_by references users(id), so the creator row must exist.
	require.NoError(t, s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO users (id, public_key, fingerprint, display_name, created_at, updated_at)
			VALUES ('owner-1', x'00', 'fp-owner', 'owner', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`)
		return err
	}))

	inv, err := s.CreateInvite(ctx, "owner-1", &maxUses, nil)
	require.NoError(t, err)

	require.NoError(t, consumeOnce(ctx, s, inv.Code))
	assert.Error(t, consumeOnce(ctx, s, inv.Code), "second consumption must fail once max_uses is reached")

	past := time.Now().Add(-time.Hour)
	expired, err := s.CreateInvite(ctx, "owner-1", nil, &past)
	require.NoError(t, err)
	assert.Error(t, consumeOnce(ctx, s, expired.Code), "an expired invite must not be consumable")
}

func TestConsumeInviteRejectsUnknownCode(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	assert.Error(t, consumeOnce(ctx, s, "NOPE1234"))
}

// consumeOnce runs ConsumeInTx inside its own transaction, mirroring how
// identity.Service.Register invokes it as an InviteConsumer.
func consumeOnce(ctx context.Context, s *Service, code string) error {
	return s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := s.ConsumeInTx(ctx, tx, code); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
