// Package channels implements category/channel CRUD, per-channel message
// sequencing, reactions, and last-read state. All writes go through
// store.Store.Do, serialized behind the single store lock, which is what
// keeps server_sequence strictly increasing per channel with no extra
// coordination.
package channels

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

const (
	maxMessageChars = 4000
	defaultPageSize = 50
	maxPageSize     = 100
)

type Service struct {
	st *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{st: st}
}

func nowStr() string { return time.Now().UTC().Format(time.RFC3339) }

// CreateCategory inserts a category at the given position.
func (s *Service) CreateCategory(ctx context.Context, name string, position int64) (*models.Category, error) {
	cat := &models.Category{ID: idgen.New(), Name: name, Position: position, CreatedAt: time.Now().UTC()}
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO categories (id, name, position, created_at) VALUES (?, ?, ?, ?)`,
			cat.ID, cat.Name, cat.Position, nowStr())
		return err
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return cat, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM categories WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

// CreateChannel inserts a channel. The caller is responsible for
// subscribing the new channel's gossip topic.
func (s *Service) CreateChannel(ctx context.Context, categoryID, name, topic string, chType models.ChannelType, position int64) (*models.Channel, error) {
	if chType == "" {
		chType = models.ChannelText
	}
	ch := &models.Channel{
		ID: idgen.New(), CategoryID: categoryID, Name: name, Topic: topic,
		ChannelType: chType, Position: position, CreatedAt: time.Now().UTC(),
	}
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO channels (id, category_id, name, topic, channel_type, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ch.ID, nullableString(ch.CategoryID), ch.Name, ch.Topic, string(ch.ChannelType), ch.Position, nowStr())
		return err
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return ch, nil
}

func (s *Service) UpdateChannel(ctx context.Context, id, name, topic string) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE channels SET name = COALESCE(NULLIF(?, ''), name), topic = ? WHERE id = ?`, name, topic, id)
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
		return apperrors.NotFound("channel")
	}
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

// DeleteChannel removes a channel. The caller unsubscribes its gossip topic
//.
func (s *Service) DeleteChannel(ctx context.Context, id string) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM channels WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

// Reorder applies a caller-supplied ordering by id. Positions are sparse
// (gap 1000) so a later single-channel move can slot between two neighbors
// without rewriting every row.
func (s *Service) Reorder(ctx context.Context, orderedIDs []string) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for i, id := range orderedIDs {
			if _, err := tx.Exec(`UPDATE channels SET position = ? WHERE id = ?`, (i+1)*1000, id); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

func (s *Service) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT id, COALESCE(category_id, ''), name, COALESCE(topic, ''), channel_type, position, created_at
			FROM channels ORDER BY position`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ch models.Channel
			var createdAt string
			var chType string
			if err := rows.Scan(&ch.ID, &ch.CategoryID, &ch.Name, &ch.Topic, &chType, &ch.Position, &createdAt); err != nil {
				return err
			}
			ch.ChannelType = models.ChannelType(chType)
			ch.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			out = append(out, ch)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// extractMentions pulls @user:… and @role:… tokens from whitespace-split
// message content.
func extractMentions(content string) []string {
	var mentions []string
	for _, tok := range strings.Fields(content) {
		if strings.HasPrefix(tok, "@user:") || strings.HasPrefix(tok, "@role:") {
			mentions = append(mentions, tok)
		}
	}
	return mentions
}
