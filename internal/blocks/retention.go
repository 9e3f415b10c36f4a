package blocks

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Sweep deletes every block whose expires_at has passed: the file first,
// then the row, tolerating a file already gone.
func (s *Store) Sweep(ctx context.Context, log zerolog.Logger) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var expired []string
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT hash_hex FROM blocks WHERE expires_at < ?`, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				return err
			}
			expired = append(expired, h)
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}

	for _, h := range expired {
		if err := os.Remove(s.blobPath(h)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("hash", h).Msg("removing expired block file")
		}
		delErr := s.st.Do(ctx, func(db *sql.DB) error {
			_, err := db.Exec(`DELETE FROM blocks WHERE hash_hex = ?`, h)
			return err
		})
		if delErr != nil {
			log.Error().Err(delErr).Str("hash", h).Msg("deleting expired block row")
		}
	}
	return nil
}
