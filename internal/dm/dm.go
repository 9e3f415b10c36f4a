// Package dm implements the opaque direct-message path: the server
// persists only ciphertext, nonce, optional ephemeral public key,
// timestamp, and server-assigned sequence. It never sees plaintext.
// Conversations are normalized so
// the lexicographically smaller participant is always participant_a,
// which is what makes the (a,b) uniqueness constraint symmetric.
package dm

import (
	"context"
	"database/sql"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

const offlineQueueTTL = 30 * 24 * time.Hour

type Service struct {
	st *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{st: st}
}

func nowStr() string { return time.Now().UTC().Format(time.RFC3339) }

// PutKey upserts the caller's X25519 key bundle, keyed by their Ed25519
// public key hex.
func (s *Service) PutKey(ctx context.Context, ed25519PubKeyHex string, x25519PubKey []byte) error {
	now := nowStr()
	return s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO dm_keys (ed25519_pubkey_hex, x25519_pubkey, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(ed25519_pubkey_hex) DO UPDATE SET x25519_pubkey = excluded.x25519_pubkey, updated_at = excluded.updated_at
		`, ed25519PubKeyHex, x25519PubKey, now, now)
		return err
	})
}

func (s *Service) GetKey(ctx context.Context, ed25519PubKeyHex string) (*models.DMKey, error) {
	var key models.DMKey
	var createdAt, updatedAt string
	err := s.st.Do(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT ed25519_pubkey_hex, x25519_pubkey, created_at, updated_at FROM dm_keys WHERE ed25519_pubkey_hex = ?`, ed25519PubKeyHex)
		return row.Scan(&key.Ed25519PubKeyHex, &key.X25519PubKey, &createdAt, &updatedAt)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("dm key")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	key.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &key, nil
}

// participants normalizes a pair so participant_a < participant_b
// lexicographically.
func participants(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// GetOrCreateConversation returns the conversation between two pubkey
// identities, creating it if absent.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.DMConversation, error) {
	pa, pb := participants(userA, userB)
	var conv models.DMConversation
	err := s.st.Do(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_message_at FROM dm_conversations WHERE participant_a = ? AND participant_b = ?`, pa, pb)
		var createdAt string
		var lastMsgAt sql.NullString
		err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &createdAt, &lastMsgAt)
		if err == sql.ErrNoRows {
			conv.ID = idgen.New()
			conv.ParticipantA, conv.ParticipantB = pa, pb
			now := nowStr()
			if _, err := db.ExecContext(ctx, `INSERT INTO dm_conversations (id, participant_a, participant_b, created_at) VALUES (?, ?, ?, ?)`, conv.ID, pa, pb, now); err != nil {
				return err
			}
			conv.CreatedAt, _ = time.Parse(time.RFC3339, now)
			return nil
		}
		if err != nil {
			return err
		}
		conv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastMsgAt.Valid {
			t, _ := time.Parse(time.RFC3339, lastMsgAt.String)
			conv.LastMessageAt = &t
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &conv, nil
}

// ListConversations returns every conversation the given pubkey participates in.
func (s *Service) ListConversations(ctx context.Context, userPubKeyHex string) ([]models.DMConversation, error) {
	var out []models.DMConversation
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, participant_a, participant_b, created_at, last_message_at
			FROM dm_conversations WHERE participant_a = ? OR participant_b = ?
			ORDER BY COALESCE(last_message_at, created_at) DESC
		`, userPubKeyHex, userPubKeyHex)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c models.DMConversation
			var createdAt string
			var lastMsgAt sql.NullString
			if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &createdAt, &lastMsgAt); err != nil {
				return err
			}
			c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			if lastMsgAt.Valid {
				t, _ := time.Parse(time.RFC3339, lastMsgAt.String)
				c.LastMessageAt = &t
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}

type SendInput struct {
	ConversationID string
	Sender         string
	Recipient      string
	Ciphertext     []byte
	Nonce          []byte
	EphemeralPub   []byte
	TsMs           int64
	SenderDisplayName string
}

// Send assigns the next server_sequence for the conversation (the same
// single-writer-store discipline channel messages use) and inserts the
// opaque row. Delivery is the caller's responsibility: Send returns the
// stored row so the HTTP/gateway layer can push it to a live socket or
// enqueue it for offline pickup.
func (s *Service) Send(ctx context.Context, in SendInput) (*models.DMMessage, error) {
	if len(in.Ciphertext) == 0 {
		return nil, apperrors.BadRequest("ciphertext must not be empty")
	}
	if len(in.Nonce) == 0 {
		return nil, apperrors.BadRequest("nonce must not be empty")
	}

	msg := &models.DMMessage{
		ID:                idgen.New(),
		ConversationID:    in.ConversationID,
		Sender:            in.Sender,
		Ciphertext:        in.Ciphertext,
		Nonce:             in.Nonce,
		EphemeralPub:      in.EphemeralPub,
		TsMs:              in.TsMs,
		SenderDisplayName: in.SenderDisplayName,
	}

	err := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(server_sequence) FROM dm_messages WHERE conversation_id = ?`, in.ConversationID).Scan(&maxSeq); err != nil {
			return err
		}
		msg.ServerSequence = maxSeq.Int64 + 1

		now := nowStr()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dm_messages (id, conversation_id, sender, ciphertext, nonce, ephemeral_pub, ts_ms, server_sequence, sender_display_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ConversationID, msg.Sender, msg.Ciphertext, msg.Nonce, nullableBytes(msg.EphemeralPub), msg.TsMs, msg.ServerSequence, nullableString(msg.SenderDisplayName), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE dm_conversations SET last_message_at = ? WHERE id = ?`, now, in.ConversationID); err != nil {
			return err
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339, now)
		return tx.Commit()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return msg, nil
}

// Enqueue adds an offline-delivery entry for a recipient with no live
// socket.
func (s *Service) Enqueue(ctx context.Context, recipientPubKeyHex, dmMessageID string) error {
	return s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO dm_offline_queue (recipient_pubkey, dm_message_id, queued_at, delivered)
			VALUES (?, ?, ?, 0)
		`, recipientPubKeyHex, dmMessageID, nowStr())
		return err
	})
}

type OfflineEntry struct {
	models.DMOfflineEntry
	Message models.DMMessage
}

// PullOffline returns the undelivered queue for a recipient and marks the
// returned entries delivered.
func (s *Service) PullOffline(ctx context.Context, recipientPubKeyHex string) ([]OfflineEntry, error) {
	var out []OfflineEntry
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT q.dm_message_id, q.queued_at, m.conversation_id, m.sender, m.ciphertext, m.nonce, m.ephemeral_pub, m.ts_ms, m.server_sequence, m.sender_display_name, m.created_at
			FROM dm_offline_queue q JOIN dm_messages m ON m.id = q.dm_message_id
			WHERE q.recipient_pubkey = ? AND q.delivered = 0
			ORDER BY q.queued_at ASC
		`, recipientPubKeyHex)
		if err != nil {
			return err
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var e OfflineEntry
			var queuedAt, createdAt string
			var ephemeralPub sql.NullString
			var displayName sql.NullString
			if err := rows.Scan(&e.DMMessageID, &queuedAt, &e.Message.ConversationID, &e.Message.Sender, &e.Message.Ciphertext, &e.Message.Nonce, &ephemeralPub, &e.Message.TsMs, &e.Message.ServerSequence, &displayName, &createdAt); err != nil {
				return err
			}
			e.RecipientPubKey = recipientPubKeyHex
			e.QueuedAt, _ = time.Parse(time.RFC3339, queuedAt)
			e.Message.ID = e.DMMessageID
			e.Message.SenderDisplayName = displayName.String
			e.Message.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			out = append(out, e)
			ids = append(ids, e.DMMessageID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := db.ExecContext(ctx, `UPDATE dm_offline_queue SET delivered = 1 WHERE recipient_pubkey = ? AND dm_message_id = ?`, recipientPubKeyHex, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}

// ReapOfflineQueue deletes offline-queue rows older than 30 days.
func (s *Service) ReapOfflineQueue(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-offlineQueueTTL).UTC().Format(time.RFC3339)
	var n int64
	err := s.st.Do(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM dm_offline_queue WHERE queued_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, apperrors.Internal(err.Error())
	}
	return n, nil
}

// GetMessage fetches a single DM message by id, used by the history/ack paths.
func (s *Service) GetMessage(ctx context.Context, id string) (*models.DMMessage, error) {
	var m models.DMMessage
	err := s.st.Do(ctx, func(db *sql.DB) error {
		var ephemeralPub sql.NullString
		var displayName sql.NullString
		var createdAt string
		row := db.QueryRowContext(ctx, `
			SELECT id, conversation_id, sender, ciphertext, nonce, ephemeral_pub, ts_ms, server_sequence, sender_display_name, created_at
			FROM dm_messages WHERE id = ?
		`, id)
		if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Ciphertext, &m.Nonce, &ephemeralPub, &m.TsMs, &m.ServerSequence, &displayName, &createdAt); err != nil {
			return err
		}
		m.SenderDisplayName = displayName.String
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("dm message")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &m, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
