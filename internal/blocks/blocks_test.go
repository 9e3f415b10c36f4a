package blocks

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llanx/UNITED/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Config{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	bs, err := NewStore(st, dir, 0)
	require.NoError(t, err)
	return bs
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestPutGetRoundTrip(t *testing.T) {
	bs := newTestStore(t)
	ctx := context.Background()
	body := []byte("hello content-addressed world")
	h := hashHex(body)

	blk, err := bs.Put(ctx, h, body, "", 0)
	require.NoError(t, err)
	assert.Equal(t, h, blk.HashHex)

	got, err := bs.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestPutRejectsHashMismatch(t *testing.T) {
	bs := newTestStore(t)
	ctx := context.Background()
	_, err := bs.Put(ctx, "not-the-real-hash", []byte("data"), "", 0)
	assert.Error(t, err)
}

func TestPutIsIdempotentForDuplicateHash(t *testing.T) {
	bs := newTestStore(t)
	ctx := context.Background()
	body := []byte("duplicate me")
	h := hashHex(body)

	_, err := bs.Put(ctx, h, body, "", 0)
	require.NoError(t, err)
	_, err = bs.Put(ctx, h, body, "", 0)
	assert.NoError(t, err, "re-uploading the same hash must succeed, not overwrite")
}

func TestGetMissingBlockIsNotFound(t *testing.T) {
	bs := newTestStore(t)
	_, err := bs.Get(context.Background(), hashHex([]byte("never uploaded")))
	assert.Error(t, err)
}

func TestSweepRemovesExpiredBlocks(t *testing.T) {
	bs := newTestStore(t)
	ctx := context.Background()
	body := []byte("short lived")
	h := hashHex(body)

	_, err := bs.Put(ctx, h, body, "", 0)
	require.NoError(t, err)

	// force immediate expiry by rewriting expires_at into the past
	require.NoError(t, bs.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE blocks SET expires_at = ? WHERE hash_hex = ?`,
			time.Now().Add(-time.Hour).UTC().Format(time.RFC3339), h)
		return err
	}))

	require.NoError(t, bs.Sweep(ctx, zerolog.Nop()))

	_, err = bs.Get(ctx, h)
	assert.Error(t, err, "swept block should no longer be retrievable")
}
