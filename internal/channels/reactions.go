package channels

import (
	"context"
	"database/sql"

	"github.com/llanx/UNITED/internal/apperrors"
)

// ReactionEvent is broadcast on add/remove.
type ReactionEvent struct {
	MessageID int64  `json:"message_id"`
	UserPub   string `json:"user_pubkey"`
	Emoji     string `json:"emoji"`
	Removed   bool   `json:"removed,omitempty"`
}

// AddReaction is idempotent: (message_id, user_pubkey, emoji) is unique, so
// a duplicate add is a no-op rather than an error.
func (s *Service) AddReaction(ctx context.Context, messageID int64, userPubKeyHex, emoji string) (*ReactionEvent, error) {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO reactions (message_id, user_pubkey, emoji, created_at) VALUES (?, ?, ?, ?)`,
			messageID, userPubKeyHex, emoji, nowStr())
		return err
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &ReactionEvent{MessageID: messageID, UserPub: userPubKeyHex, Emoji: emoji}, nil
}

// RemoveReaction requires ownership of the reaction row.
func (s *Service) RemoveReaction(ctx context.Context, messageID int64, userPubKeyHex, emoji string) (*ReactionEvent, error) {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM reactions WHERE message_id = ? AND user_pubkey = ? AND emoji = ?`,
			messageID, userPubKeyHex, emoji)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("reaction")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &ReactionEvent{MessageID: messageID, UserPub: userPubKeyHex, Emoji: emoji, Removed: true}, nil
}

// ListReactions returns the grouped emoji counts for one message.
func (s *Service) ListReactions(ctx context.Context, messageID int64) (map[string]int, error) {
	out := make(map[string]int)
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT emoji, COUNT(*) FROM reactions WHERE message_id = ? GROUP BY emoji`, messageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var emoji string
			var count int
			if err := rows.Scan(&emoji, &count); err != nil {
				return err
			}
			out[emoji] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}
