package identity

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"

	"context"
)

// EnsureSetupToken implements first-boot bootstrap: when the server has no
// users and no unconsumed setup token, a fresh random token is minted and
// its hash persisted. The plaintext is returned exactly once so process
// wiring can print it for the operator; on every later boot this returns
// "" and the stored hash stays untouched.
func (s *Service) EnsureSetupToken(ctx context.Context) (string, error) {
	var plaintext string
	err := s.st.Do(ctx, func(db *sql.DB) error {
		var userCount int
		if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&userCount); err != nil {
			return err
		}
		if userCount > 0 {
			return nil
		}
		var pending int
		if err := db.QueryRow(`SELECT COUNT(*) FROM setup_tokens WHERE consumed = 0`).Scan(&pending); err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}

		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return err
		}
		plaintext = hex.EncodeToString(raw)
		_, err := db.Exec(`INSERT INTO setup_tokens (token_hash, consumed, created_at) VALUES (?, 0, datetime('now'))`,
			hashSetupToken(plaintext))
		return err
	})
	if err != nil {
		return "", err
	}
	return plaintext, nil
}
