package moderation

import (
	"context"
	"database/sql"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

type Service struct {
	st *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{st: st}
}

func nowStr() string { return time.Now().UTC().Format(time.RFC3339) }

// RoleBits OR-aggregates the permission bits of every role a user holds
// plus the default role.
func (s *Service) RoleBits(ctx context.Context, userID string) (int64, error) {
	var bits int64
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT DISTINCT r.permission_bits FROM roles r
			LEFT JOIN user_roles ur ON ur.role_id = r.id AND ur.user_id = ?
			WHERE ur.user_id = ? OR r.is_default = 1`, userID, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b int64
			if err := rows.Scan(&b); err != nil {
				return err
			}
			bits |= b
		}
		return rows.Err()
	})
	if err != nil {
		return 0, apperrors.Internal(err.Error())
	}
	return bits, nil
}

// IsBanned reports whether fingerprint has a live (non-expired) ban,
// lazily purging expired rows on read.
func (s *Service) IsBanned(ctx context.Context, fingerprint string) (bool, error) {
	var banned bool
	err := s.st.Do(ctx, func(db *sql.DB) error {
		var expiresAt sql.NullString
		err := db.QueryRow(`SELECT expires_at FROM bans WHERE fingerprint = ?`, fingerprint).Scan(&expiresAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if !expiresAt.Valid {
			banned = true
			return nil
		}
		expiry, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return err
		}
		if time.Now().UTC().After(expiry) {
			_, err := db.Exec(`DELETE FROM bans WHERE fingerprint = ?`, fingerprint)
			return err
		}
		banned = true
		return nil
	})
	if err != nil {
		return false, apperrors.Internal(err.Error())
	}
	return banned, nil
}

// Ban inserts or replaces a fingerprint-keyed ban. Cannot target the owner
//; callers must check that invariant before calling since
// Ban itself has no notion of who the owner is.
func (s *Service) Ban(ctx context.Context, fingerprint, reason string, expiresAt *time.Time, actorUserID string) error {
	var expiresStr sql.NullString
	if expiresAt != nil {
		expiresStr = sql.NullString{String: expiresAt.UTC().Format(time.RFC3339), Valid: true}
	}
	err := s.st.Do(ctx, func(db *sql.DB) error {
		if _, err := db.Exec(`INSERT INTO bans (fingerprint, reason, expires_at, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (fingerprint) DO UPDATE SET reason = excluded.reason, expires_at = excluded.expires_at, created_at = excluded.created_at`,
			fingerprint, reason, expiresStr, nowStr()); err != nil {
			return err
		}
		return writeAudit(db, actorUserID, "ban", fingerprint, reason)
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

func (s *Service) Unban(ctx context.Context, fingerprint, actorUserID string) error {
	err := s.st.Do(ctx, func(db *sql.DB) error {
		if _, err := db.Exec(`DELETE FROM bans WHERE fingerprint = ?`, fingerprint); err != nil {
			return err
		}
		return writeAudit(db, actorUserID, "unban", fingerprint, "")
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

func (s *Service) ListBans(ctx context.Context) ([]models.Ban, error) {
	var out []models.Ban
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT fingerprint, COALESCE(reason, ''), expires_at, created_at FROM bans`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b models.Ban
			var expires sql.NullString
			var createdAt string
			if err := rows.Scan(&b.Fingerprint, &b.Reason, &expires, &createdAt); err != nil {
				return err
			}
			if expires.Valid {
				t, _ := time.Parse(time.RFC3339, expires.String)
				b.ExpiresAt = &t
			}
			b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}

func writeAudit(db *sql.DB, actorUserID, action, target, detail string) error {
	_, err := db.Exec(`INSERT INTO audit_log (id, actor_user_id, action, target, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		idgen.New(), nullableString(actorUserID), action, nullableString(target), nullableString(detail), nowStr())
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
