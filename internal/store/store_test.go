package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Migrate())

	var version int
	err := st.Do(context.Background(), func(db *sql.DB) error {
		return db.QueryRow(`PRAGMA user_version`).Scan(&version)
	})
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestDoSerializesWrites(t *testing.T) {
	st := newTestStore(t)

	err := st.Do(context.Background(), func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO server_settings (key, value) VALUES ('name', 'united')`)
		return err
	})
	require.NoError(t, err)

	var value string
	err = st.Do(context.Background(), func(db *sql.DB) error {
		return db.QueryRow(`SELECT value FROM server_settings WHERE key = 'name'`).Scan(&value)
	})
	require.NoError(t, err)
	assert.Equal(t, "united", value)
}

func TestDoPropagatesFnError(t *testing.T) {
	st := newTestStore(t)

	err := st.Do(context.Background(), func(db *sql.DB) error {
		return db.QueryRow(`SELECT value FROM server_settings WHERE key = 'missing'`).Scan(new(string))
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
