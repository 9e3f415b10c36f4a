package channels

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/models"
)

// NewMessageEvent is broadcast to all live sockets on a successful send
//.
type NewMessageEvent struct {
	Message  models.Message `json:"message"`
	Mentions []string       `json:"mentions,omitempty"`
}

// SendInput is the create-message request body.
type SendInput struct {
	ChannelID         string
	SenderPubKeyHex   string
	SenderDisplayName string
	Content           string
	SequenceHint      int64
	ReplyToID         *int64
}

// Send assigns the next server_sequence for the channel under the store
// lock (MAX(server_sequence)+1, then insert) and returns the stored row
// plus extracted mentions for the caller to broadcast.
func (s *Service) Send(ctx context.Context, in SendInput) (*NewMessageEvent, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperrors.BadRequest("message content must not be empty")
	}
	if utf8.RuneCountInString(content) > maxMessageChars {
		return nil, apperrors.BadRequest("message content exceeds 4000 characters")
	}

	var msg models.Message
	now := time.Now().UTC()
	err := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var next int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(server_sequence), 0) + 1 FROM messages WHERE channel_id = ?`, in.ChannelID).Scan(&next); err != nil {
			return err
		}

		res, err := tx.Exec(`INSERT INTO messages
			(channel_id, sender_pubkey_hex, sender_display_name, kind, content_text, ts_ms, sequence_hint, server_sequence, reply_to_id)
			VALUES (?, ?, ?, 'chat', ?, ?, ?, ?, ?)`,
			in.ChannelID, in.SenderPubKeyHex, in.SenderDisplayName, content, now.UnixMilli(), in.SequenceHint, next, in.ReplyToID)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		msg = models.Message{
			ID: id, ChannelID: in.ChannelID, SenderPubKeyHex: in.SenderPubKeyHex,
			SenderDisplayName: in.SenderDisplayName, Kind: models.MessageKindChat,
			ContentText: content, TsMs: now.UnixMilli(), SequenceHint: in.SequenceHint,
			ServerSequence: next, ReplyToID: in.ReplyToID,
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &NewMessageEvent{Message: msg, Mentions: extractMentions(content)}, nil
}

// IngestRemote stores a chat message received from the gossip mesh under
// the same sequencing rule as a local send. tsMs/sequenceHint/payload come
// from the verified gossip envelope.
func (s *Service) IngestRemote(ctx context.Context, channelID, senderPubKeyHex, senderDisplayName, content string, tsMs, sequenceHint int64) (*NewMessageEvent, error) {
	var msg models.Message
	err := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var next int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(server_sequence), 0) + 1 FROM messages WHERE channel_id = ?`, channelID).Scan(&next); err != nil {
			return err
		}
		res, err := tx.Exec(`INSERT INTO messages
			(channel_id, sender_pubkey_hex, sender_display_name, kind, content_text, ts_ms, sequence_hint, server_sequence)
			VALUES (?, ?, ?, 'chat', ?, ?, ?, ?)`,
			channelID, senderPubKeyHex, senderDisplayName, content, tsMs, sequenceHint, next)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		msg = models.Message{
			ID: id, ChannelID: channelID, SenderPubKeyHex: senderPubKeyHex,
			SenderDisplayName: senderDisplayName, Kind: models.MessageKindChat,
			ContentText: content, TsMs: tsMs, SequenceHint: sequenceHint, ServerSequence: next,
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &NewMessageEvent{Message: msg, Mentions: extractMentions(content)}, nil
}

// HistoryPage is one page of descending, non-deleted messages with grouped
// reactions attached.
type HistoryPage struct {
	Messages []MessageWithReactions
}

type MessageWithReactions struct {
	models.Message
	Reactions map[string]int `json:"reactions,omitempty"`
}

// History returns up to limit messages strictly before the `before`
// sequence cutoff (0 means "from the most recent"), descending by sequence.
func (s *Service) History(ctx context.Context, channelID string, before int64, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var page HistoryPage
	err := s.st.Do(ctx, func(db *sql.DB) error {
		query := `SELECT id, channel_id, sender_pubkey_hex, sender_display_name, kind, content_text, ts_ms,
			sequence_hint, server_sequence, edited, edit_ts, deleted, reply_to_id
			FROM messages WHERE channel_id = ? AND deleted = 0`
		args := []any{channelID}
		if before > 0 {
			query += ` AND server_sequence < ?`
			args = append(args, before)
		}
		query += ` ORDER BY server_sequence DESC LIMIT ?`
		args = append(args, limit)

		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		var ids []int64
		byID := map[int64]*MessageWithReactions{}
		for rows.Next() {
			var m models.Message
			var kind string
			var editTs sql.NullInt64
			var replyTo sql.NullInt64
			var deleted int
			var edited int
			if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderPubKeyHex, &m.SenderDisplayName, &kind,
				&m.ContentText, &m.TsMs, &m.SequenceHint, &m.ServerSequence, &edited, &editTs, &deleted, &replyTo); err != nil {
				return err
			}
			m.Kind = models.MessageKind(kind)
			m.Edited = edited != 0
			m.Deleted = deleted != 0
			if editTs.Valid {
				m.EditTs = &editTs.Int64
			}
			if replyTo.Valid {
				m.ReplyToID = &replyTo.Int64
			}
			entry := &MessageWithReactions{Message: m}
			byID[m.ID] = entry
			page.Messages = append(page.Messages, *entry)
			ids = append(ids, m.ID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return attachReactions(db, ids, page.Messages)
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &page, nil
}

func attachReactions(db *sql.DB, ids []int64, messages []MessageWithReactions) error {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := db.Query(`SELECT message_id, emoji, COUNT(*) FROM reactions WHERE message_id IN (`+strings.Join(placeholders, ",")+`) GROUP BY message_id, emoji`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := make(map[int64]int)
	for i := range messages {
		byID[messages[i].ID] = i
	}
	for rows.Next() {
		var msgID int64
		var emoji string
		var count int
		if err := rows.Scan(&msgID, &emoji, &count); err != nil {
			return err
		}
		idx, ok := byID[msgID]
		if !ok {
			continue
		}
		if messages[idx].Reactions == nil {
			messages[idx].Reactions = make(map[string]int)
		}
		messages[idx].Reactions[emoji] = count
	}
	return rows.Err()
}

// Edit requires the caller's public key to match the row's sender.
func (s *Service) Edit(ctx context.Context, messageID int64, callerPubKeyHex, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return apperrors.BadRequest("message content must not be empty")
	}
	if utf8.RuneCountInString(newContent) > maxMessageChars {
		return apperrors.BadRequest("message content exceeds 4000 characters")
	}
	now := time.Now().UTC().UnixMilli()
	err := s.st.Do(ctx, func(db *sql.DB) error {
		var sender string
		if err := db.QueryRow(`SELECT sender_pubkey_hex FROM messages WHERE id = ?`, messageID).Scan(&sender); err != nil {
			return err
		}
		if sender != callerPubKeyHex {
			return apperrors.Forbidden("only the sender may edit this message")
		}
		_, err := db.Exec(`UPDATE messages SET content_text = ?, edited = 1, edit_ts = ? WHERE id = ?`, newContent, now, messageID)
		return err
	})
	if err == sql.ErrNoRows {
		return apperrors.NotFound("message")
	}
	if ae, ok := err.(*apperrors.AppError); ok {
		return ae
	}
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

// Delete is a soft flag, permitted to the sender, owner, or an admin
//.
func (s *Service) Delete(ctx context.Context, messageID int64, callerPubKeyHex string, callerIsOwnerOrAdmin bool) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		var sender string
		if err := db.QueryRow(`SELECT sender_pubkey_hex FROM messages WHERE id = ?`, messageID).Scan(&sender); err != nil {
			return err
		}
		if sender != callerPubKeyHex && !callerIsOwnerOrAdmin {
			return apperrors.Forbidden("not permitted to delete this message")
		}
		_, err := db.Exec(`UPDATE messages SET deleted = 1 WHERE id = ?`, messageID)
		return err
	})
	if err == sql.ErrNoRows {
		return apperrors.NotFound("message")
	}
	if ae, ok := err.(*apperrors.AppError); ok {
		return ae
	}
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}
