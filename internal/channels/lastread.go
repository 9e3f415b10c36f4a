package channels

import (
	"context"
	"database/sql"

	"github.com/llanx/UNITED/internal/apperrors"
)

// SetLastRead upserts (user_id, channel_id) -> last_sequence.
func (s *Service) SetLastRead(ctx context.Context, userID, channelID string, lastSequence int64) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO last_read (user_id, channel_id, last_sequence) VALUES (?, ?, ?)
			ON CONFLICT (user_id, channel_id) DO UPDATE SET last_sequence = excluded.last_sequence`,
			userID, channelID, lastSequence)
		return err
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

func (s *Service) GetLastRead(ctx context.Context, userID, channelID string) (int64, error) {
	var seq int64
	err := s.st.Do(ctx, func(db *sql.DB) error {
		err := db.QueryRow(`SELECT last_sequence FROM last_read WHERE user_id = ? AND channel_id = ?`, userID, channelID).Scan(&seq)
		if err == sql.ErrNoRows {
			seq = 0
			return nil
		}
		return err
	})
	if err != nil {
		return 0, apperrors.Internal(err.Error())
	}
	return seq, nil
}
