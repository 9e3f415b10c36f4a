// Package blocks implements the content-addressed block store: SHA-256
// verified uploads, AES-256-GCM at rest with a content-derived key, and a
// time-based retention sweep. Blob bytes live on disk under
// data_dir/blocks/{hash}; only metadata lives in the relational store.
package blocks

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/cryptoutil"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

const (
	DefaultMaxBytes      = 100 << 20 // 100 MiB
	defaultRetentionDays = 7
)

// Domain-separation strings for the two-stage HKDF derivation: the hash
// first derives a "content key", which is then expanded
// into the actual AEAD key. Salt is a fixed, documented (not secret)
// 32-byte constant — the scheme's security rests on HKDF's extract-then-
// expand construction and the public hash, not salt secrecy.
var (
	contentKeyInfo = []byte("united:content-key")
	blockAEADInfo  = []byte("united:block-aead")
	blockSalt      = []byte("united-block-store-v1-fixed-salt")
)

type Store struct {
	st       *store.Store
	dir      string
	maxBytes int64
}

func NewStore(st *store.Store, dataDir string, maxBytes int64) (*Store, error) {
	dir := filepath.Join(dataDir, "blocks")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{st: st, dir: dir, maxBytes: maxBytes}, nil
}

func deriveBlockKey(hashHex string) ([]byte, error) {
	contentKey, err := cryptoutil.DeriveKey([]byte(hashHex), blockSalt, contentKeyInfo)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DeriveKey(contentKey, blockSalt, blockAEADInfo)
}

// Put verifies body against expectedHashHex, encrypts it at rest, and
// inserts metadata with INSERT OR IGNORE so a duplicate upload of the same
// hash succeeds without overwriting the original.
func (s *Store) Put(ctx context.Context, expectedHashHex string, body []byte, channelID string, retentionDays int) (*models.Block, error) {
	if int64(len(body)) > s.maxBytes {
		return nil, apperrors.PayloadTooLarge("block exceeds maximum size")
	}
	sum := sha256.Sum256(body)
	actual := hex.EncodeToString(sum[:])
	if actual != expectedHashHex {
		return nil, apperrors.BadRequest("body does not match X-Block-Hash")
	}

	key, err := deriveBlockKey(actual)
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	sealed, err := cryptoutil.Seal(key, body, nil)
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	if err := os.WriteFile(s.blobPath(actual), sealed, 0o600); err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(retentionDays) * 24 * time.Hour)

	err = s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO blocks (hash_hex, plaintext_size, encrypted_size, channel_id, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			actual, len(body), len(sealed), nullableString(channelID), now.Format(time.RFC3339), expiresAt.Format(time.RFC3339))
		return err
	})
	if err != nil {
		os.Remove(s.blobPath(actual))
		return nil, apperrors.Internal(err.Error())
	}

	return &models.Block{HashHex: actual, PlaintextSize: int64(len(body)), EncryptedSize: int64(len(sealed)), CreatedAt: now, ExpiresAt: expiresAt}, nil
}

// Get reads, decrypts, and returns a previously stored blob. 404s if
// metadata is missing.
func (s *Store) Get(ctx context.Context, hashHex string) ([]byte, error) {
	var exists bool
	err := s.st.Do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT 1 FROM blocks WHERE hash_hex = ?`, hashHex).Scan(&exists)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("block")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	sealed, err := os.ReadFile(s.blobPath(hashHex))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NotFound("block")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	key, err := deriveBlockKey(hashHex)
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	plaintext, err := cryptoutil.Open(key, sealed, nil)
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return plaintext, nil
}

func (s *Store) blobPath(hashHex string) string {
	return filepath.Join(s.dir, hashHex)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
