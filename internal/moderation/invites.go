package moderation

import (
	"context"
	"database/sql"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/models"
)

// CreateInvite generates an 8-character alphanumeric code.
func (s *Service) CreateInvite(ctx context.Context, createdBy string, maxUses *int, expiresAt *time.Time) (*models.Invite, error) {
	code := idgen.InviteCode()
	var expiresStr sql.NullString
	if expiresAt != nil {
		expiresStr = sql.NullString{String: expiresAt.UTC().Format(time.RFC3339), Valid: true}
	}
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO invites (code, created_by, max_uses, use_count, expires_at, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
			code, createdBy, maxUsesValue(maxUses), expiresStr, nowStr())
		return err
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return &models.Invite{Code: code, CreatedBy: createdBy, MaxUses: maxUses, ExpiresAt: expiresAt, CreatedAt: time.Now().UTC()}, nil
}

func maxUsesValue(maxUses *int) any {
	if maxUses == nil {
		return nil
	}
	return *maxUses
}

// ConsumeInTx implements identity.InviteConsumer: a single conditional
// UPDATE that increments use_count only if the code is unexpired and below
// max_uses. Zero rows affected means invalid, expired, or exhausted
// — all three collapse to the same client-facing error since leaking
// which one it was would let an attacker enumerate invite state.
func (s *Service) ConsumeInTx(ctx context.Context, tx *sql.Tx, code string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE invites SET use_count = use_count + 1
		WHERE code = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND (max_uses IS NULL OR use_count < max_uses)`,
		code, nowStr())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.BadRequest("invite code is invalid, expired, or exhausted")
	}
	return nil
}

func (s *Service) ListInvites(ctx context.Context) ([]models.Invite, error) {
	var out []models.Invite
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT code, created_by, max_uses, use_count, expires_at, created_at FROM invites`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var inv models.Invite
			var maxUses sql.NullInt64
			var expires sql.NullString
			var createdAt string
			if err := rows.Scan(&inv.Code, &inv.CreatedBy, &maxUses, &inv.UseCount, &expires, &createdAt); err != nil {
				return err
			}
			if maxUses.Valid {
				n := int(maxUses.Int64)
				inv.MaxUses = &n
			}
			if expires.Valid {
				t, _ := time.Parse(time.RFC3339, expires.String)
				inv.ExpiresAt = &t
			}
			inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			out = append(out, inv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}

func (s *Service) DeleteInvite(ctx context.Context, code string) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM invites WHERE code = ?`, code)
		return err
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}
