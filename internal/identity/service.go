package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

const maxBlobSize = 64 * 1024

// rotationCancelWindow is the 72-hour window during which a rotation may be
// reversed by a signature from the old key.
const rotationCancelWindow = 72 * time.Hour

// Service wires the challenge store and token manager to the persistence
// layer: registration, challenge/response login, refresh rotation, the
// rotation chain, and the recovery blob.
type Service struct {
	st         *store.Store
	challenges *ChallengeStore
	tokens     *TokenManager
}

func NewService(st *store.Store, challenges *ChallengeStore, tokens *TokenManager) *Service {
	return &Service{st: st, challenges: challenges, tokens: tokens}
}

// IssueChallenge returns (challenge_id, raw bytes) for the client to sign.
func (s *Service) IssueChallenge(ctx context.Context) (string, []byte, error) {
	return s.challenges.Issue()
}

// AuthResult is returned by Verify/Refresh/Register: the pair of tokens a
// client uses going forward.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	IsOwner      bool
	IsAdmin      bool
}

// Verify completes challenge/response login: the challenge is consumed
// exactly once, the signature is checked against the supplied public key,
// and the user is looked up by fingerprint.
func (s *Service) Verify(ctx context.Context, challengeID string, publicKey []byte, signature []byte, fingerprint string) (*AuthResult, error) {
	raw, err := s.challenges.Consume(challengeID)
	if err != nil {
		if errors.Is(err, ErrChallengeExpired) {
			return nil, apperrors.Gone("challenge expired")
		}
		return nil, apperrors.BadRequest("unknown challenge")
	}

	if len(publicKey) != ed25519.PublicKeySize {
		return nil, apperrors.Unauthorized("malformed public key")
	}
	if !ed25519.Verify(publicKey, raw, signature) {
		return nil, apperrors.Unauthorized("bad signature")
	}

	var u models.User
	err = s.st.Do(ctx, func(db *sql.DB) error {
		row := db.QueryRow(`SELECT id, role_bits, is_owner FROM users WHERE fingerprint = ?`, fingerprint)
		return row.Scan(&u.ID, &u.RoleBits, &u.IsOwner)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.Unauthorized("unknown fingerprint")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	isAdmin := u.RoleBits&models.PermAdmin != 0
	return s.issueTokens(ctx, u.ID, fingerprint, u.IsOwner, isAdmin)
}

func (s *Service) issueTokens(ctx context.Context, userID, fingerprint string, isOwner, isAdmin bool) (*AuthResult, error) {
	access, err := s.tokens.GenerateAccessToken(userID, fingerprint, isOwner, isAdmin)
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	plainRefresh, hash, err := NewRefreshToken()
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	err = s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO refresh_tokens (id, user_id, token_hash, device, expires_at, created_at) VALUES (?, ?, ?, '', ?, ?)`,
			idgen.New(), userID, hash, time.Now().Add(RefreshTokenTTL()).UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	return &AuthResult{AccessToken: access, RefreshToken: plainRefresh, UserID: userID, IsOwner: isOwner, IsAdmin: isAdmin}, nil
}

// Refresh rotates a refresh token: the presented token is single-use —
// consumption deletes its row before a new pair is issued.
func (s *Service) Refresh(ctx context.Context, plaintext string) (*AuthResult, error) {
	hash := HashRefreshToken(plaintext)

	var userID, fingerprint string
	var isOwner bool
	var roleBits int64
	err := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var expiresAt string
		row := tx.QueryRow(`SELECT user_id, expires_at FROM refresh_tokens WHERE token_hash = ?`, hash)
		if err := row.Scan(&userID, &expiresAt); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM refresh_tokens WHERE token_hash = ?`, hash); err != nil {
			return err
		}
		exp, _ := time.Parse(time.RFC3339, expiresAt)
		if time.Now().After(exp) {
			return sql.ErrNoRows
		}
		if err := tx.QueryRow(`SELECT role_bits, is_owner FROM users WHERE id = ?`, userID).Scan(&roleBits, &isOwner); err != nil {
			return err
		}
		row2 := tx.QueryRow(`SELECT fingerprint FROM users WHERE id = ?`, userID)
		if err := row2.Scan(&fingerprint); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Unauthorized("invalid refresh token")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}

	return s.issueTokens(ctx, userID, fingerprint, isOwner, roleBits&models.PermAdmin != 0)
}

// RegisterInput mirrors the POST /api/auth/register body.
type RegisterInput struct {
	PublicKey       []byte
	Fingerprint     string
	DisplayName     string
	EncryptedBlob   []byte
	GenesisSig      []byte
	SetupToken      string
	InviteCode      string
	RegistrationMode string // "open" | "invite-only"
}

// InviteConsumer is supplied by the moderation package so identity does not
// import it directly (keeps the module graph acyclic); it must perform an
// atomic conditional increment and run inside the same store transaction
// scope as the rest of Register when non-nil.
type InviteConsumer interface {
	ConsumeInTx(ctx context.Context, tx *sql.Tx, code string) error
}

// Register validates and inserts a new user, its genesis rotation record,
// identity blob, default-role assignment, and — for the very first
// (owner) registration — a starter channel template.
func (s *Service) Register(ctx context.Context, in RegisterInput, invites InviteConsumer) (*AuthResult, error) {
	if len(in.PublicKey) != ed25519.PublicKeySize {
		return nil, apperrors.BadRequest("malformed public key")
	}
	if idgen.Fingerprint(in.PublicKey) != in.Fingerprint {
		return nil, apperrors.BadRequest("fingerprint does not match public key")
	}
	if len(in.EncryptedBlob) > maxBlobSize {
		return nil, apperrors.PayloadTooLarge("identity blob exceeds 64 KiB")
	}
	payload := genesisSignedBytes(in.PublicKey)
	if !ed25519.Verify(in.PublicKey, payload, in.GenesisSig) {
		return nil, apperrors.Unauthorized("bad genesis signature")
	}

	userID := idgen.New()
	now := time.Now().UTC().Format(time.RFC3339)

	var isOwner bool
	appErr := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var userCount int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&userCount); err != nil {
			return err
		}

		setupOK := false
		if in.SetupToken != "" && userCount == 0 {
			var hash string
			var consumed bool
			row := tx.QueryRow(`SELECT token_hash, consumed FROM setup_tokens WHERE token_hash = ?`, hashSetupToken(in.SetupToken))
			if err := row.Scan(&hash, &consumed); err == nil && !consumed {
				setupOK = true
				if _, err := tx.Exec(`UPDATE setup_tokens SET consumed = 1 WHERE token_hash = ?`, hash); err != nil {
					return err
				}
			}
		}

		if in.RegistrationMode == "invite-only" && !setupOK {
			if in.InviteCode == "" || invites == nil {
				return apperrors.Forbidden("registration requires an invite")
			}
			if err := invites.ConsumeInTx(ctx, tx, in.InviteCode); err != nil {
				return err
			}
		}

		isOwner = setupOK

		var roleBits int64
		if isOwner {
			roleBits = models.PermAdmin
		}
		if _, err := tx.Exec(`INSERT INTO users (id, public_key, fingerprint, display_name, role_bits, is_owner, totp_enrolled, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			userID, in.PublicKey, in.Fingerprint, in.DisplayName, roleBits, isOwner, now, now); err != nil {
			return err
		}

		if _, err := tx.Exec(`INSERT INTO rotation_records (id, fingerprint, kind, prev_key, new_key, sig_new, cancelled, created_at) VALUES (?, ?, 'genesis', NULL, ?, ?, 0, ?)`,
			idgen.New(), in.Fingerprint, in.PublicKey, in.GenesisSig, now); err != nil {
			return err
		}

		if _, err := tx.Exec(`INSERT INTO identity_blobs (fingerprint, encrypted_blob, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			in.Fingerprint, in.EncryptedBlob, now, now); err != nil {
			return err
		}

		var defaultRoleID string
		row := tx.QueryRow(`SELECT id FROM roles WHERE is_default = 1 LIMIT 1`)
		if err := row.Scan(&defaultRoleID); err == sql.ErrNoRows {
			defaultRoleID = idgen.New()
			if _, err := tx.Exec(`INSERT INTO roles (id, name, permission_bits, position, is_default) VALUES (?, 'everyone', ?, 0, 1)`,
				defaultRoleID, models.PermSend); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, defaultRoleID); err != nil {
			return err
		}

		if isOwner {
			if err := seedStarterTemplate(tx, now); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
	if appErr != nil {
		var ae *apperrors.AppError
		if errors.As(appErr, &ae) {
			return nil, ae
		}
		if isUniqueConstraint(appErr) {
			return nil, apperrors.Conflict("fingerprint or display name already registered")
		}
		return nil, apperrors.Internal(appErr.Error())
	}

	return s.issueTokens(ctx, userID, in.Fingerprint, isOwner, isOwner)
}

func genesisSignedBytes(pubKey []byte) []byte {
	return append([]byte("genesis:"), pubKey...)
}

func hashSetupToken(token string) string {
	return HashRefreshToken(token) // same sha256-hex scheme, distinct namespace by caller
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// seedStarterTemplate creates a default category + text/voice channel for
// the very first (owner) registration.
func seedStarterTemplate(tx *sql.Tx, now string) error {
	catID := idgen.New()
	if _, err := tx.Exec(`INSERT INTO categories (id, name, position, created_at) VALUES (?, 'General', 1000, ?)`, catID, now); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO channels (id, category_id, name, channel_type, position, created_at) VALUES (?, ?, 'general', 'text', 1000, ?)`,
		idgen.New(), catID, now); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO channels (id, category_id, name, channel_type, position, created_at) VALUES (?, ?, 'Voice', 'voice', 2000, ?)`,
		idgen.New(), catID, now); err != nil {
		return err
	}
	return nil
}

// --- Rotation -------------------------------------------------------------

func rotationSignedBytes(prevKey, newKey []byte, reason string) []byte {
	var buf bytes.Buffer
	buf.WriteString("rotate:")
	buf.Write(prevKey)
	buf.WriteString(":")
	buf.Write(newKey)
	buf.WriteString(":")
	buf.WriteString(reason)
	return buf.Bytes()
}

func cancelSignedBytes(fingerprint string) []byte {
	return []byte("cancel_rotation:" + fingerprint)
}

type RotateInput struct {
	PrevKey []byte
	NewKey  []byte
	Reason  string
	SigOld  []byte
	SigNew  []byte
}

// Rotate verifies both signatures, checks prevKey matches the user's
// current key, rejects a concurrent non-cancelled rotation still inside its
// window, inserts the new rotation record with a 72h cancel deadline,
// updates the user's current key, and invalidates all refresh tokens
//.
func (s *Service) Rotate(ctx context.Context, fingerprint string, in RotateInput) error {
	if !ed25519.Verify(in.PrevKey, rotationSignedBytes(in.PrevKey, in.NewKey, in.Reason), in.SigOld) {
		return apperrors.Unauthorized("bad signature from previous key")
	}
	if !ed25519.Verify(in.NewKey, rotationSignedBytes(in.PrevKey, in.NewKey, in.Reason), in.SigNew) {
		return apperrors.Unauthorized("bad signature from new key")
	}

	now := time.Now().UTC()
	appErr := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var userID string
		var currentKey []byte
		if err := tx.QueryRow(`SELECT id, public_key FROM users WHERE fingerprint = ?`, fingerprint).Scan(&userID, &currentKey); err != nil {
			if err == sql.ErrNoRows {
				return apperrors.NotFound("user")
			}
			return err
		}
		if !bytes.Equal(currentKey, in.PrevKey) {
			return apperrors.Conflict("prev_key does not match current key")
		}

		var pendingCount int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM rotation_records WHERE fingerprint = ? AND cancelled = 0 AND cancel_deadline IS NOT NULL AND cancel_deadline > ?`,
			fingerprint, now.Format(time.RFC3339)).Scan(&pendingCount); err != nil {
			return err
		}
		if pendingCount > 0 {
			return apperrors.Conflict("a rotation is already pending for this fingerprint")
		}

		deadline := now.Add(rotationCancelWindow).Format(time.RFC3339)
		if _, err := tx.Exec(`INSERT INTO rotation_records (id, fingerprint, kind, prev_key, new_key, reason, sig_old, sig_new, cancel_deadline, cancelled, created_at) VALUES (?, ?, 'rotation', ?, ?, ?, ?, ?, ?, 0, ?)`,
			idgen.New(), fingerprint, in.PrevKey, in.NewKey, in.Reason, in.SigOld, in.SigNew, deadline, now.Format(time.RFC3339)); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE users SET public_key = ?, updated_at = ? WHERE id = ?`, in.NewKey, now.Format(time.RFC3339), userID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
			return err
		}
		return tx.Commit()
	})
	return unwrapAppErr(appErr)
}

// CancelRotation reverses the most recent pending rotation within its
// window: verified by a signature from the OLD key over
// "cancel_rotation:<fingerprint>".
func (s *Service) CancelRotation(ctx context.Context, fingerprint string, sig []byte) error {
	now := time.Now().UTC()
	appErr := s.st.Do(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var recID string
		var prevKey, newKey []byte
		row := tx.QueryRow(`SELECT id, prev_key, new_key FROM rotation_records
			WHERE fingerprint = ? AND cancelled = 0 AND cancel_deadline IS NOT NULL AND cancel_deadline > ?
			ORDER BY created_at DESC LIMIT 1`, fingerprint, now.Format(time.RFC3339))
		if err := row.Scan(&recID, &prevKey, &newKey); err != nil {
			if err == sql.ErrNoRows {
				return apperrors.NotFound("pending rotation")
			}
			return err
		}

		if !ed25519.Verify(prevKey, cancelSignedBytes(fingerprint), sig) {
			return apperrors.Unauthorized("bad cancellation signature")
		}

		if _, err := tx.Exec(`UPDATE rotation_records SET cancelled = 1 WHERE id = ?`, recID); err != nil {
			return err
		}
		var userID string
		if err := tx.QueryRow(`SELECT id FROM users WHERE fingerprint = ?`, fingerprint).Scan(&userID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE users SET public_key = ?, updated_at = ? WHERE id = ?`, prevKey, now.Format(time.RFC3339), userID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
			return err
		}
		return tx.Commit()
	})
	return unwrapAppErr(appErr)
}

// RotationChain returns every record for fingerprint in creation order
//.
func (s *Service) RotationChain(ctx context.Context, fingerprint string) ([]models.RotationRecord, error) {
	var out []models.RotationRecord
	err := s.st.Do(ctx, func(db *sql.DB) error {
		rows, err := db.Query(`SELECT id, fingerprint, kind, prev_key, new_key, reason, sig_old, sig_new, cancel_deadline, cancelled, created_at
			FROM rotation_records WHERE fingerprint = ? ORDER BY created_at ASC`, fingerprint)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r models.RotationRecord
			var reason, createdAt sql.NullString
			var deadline sql.NullString
			if err := rows.Scan(&r.ID, &r.Fingerprint, &r.Kind, &r.PrevKey, &r.NewKey, &reason, &r.SigOld, &r.SigNew, &deadline, &r.Cancelled, &createdAt); err != nil {
				return err
			}
			r.Reason = reason.String
			r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
			if deadline.Valid {
				t, _ := time.Parse(time.RFC3339, deadline.String)
				r.CancelDeadline = &t
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return out, nil
}

// --- Identity blob ---------------------------------------------------------

func (s *Service) GetBlob(ctx context.Context, fingerprint string) ([]byte, error) {
	var blob []byte
	err := s.st.Do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT encrypted_blob FROM identity_blobs WHERE fingerprint = ?`, fingerprint).Scan(&blob)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("identity blob")
	}
	if err != nil {
		return nil, apperrors.Internal(err.Error())
	}
	return blob, nil
}

func (s *Service) PutBlob(ctx context.Context, fingerprint string, blob []byte) error {
	if len(blob) > maxBlobSize {
		return apperrors.PayloadTooLarge("identity blob exceeds 64 KiB")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	err := s.st.Do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO identity_blobs (fingerprint, encrypted_blob, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET encrypted_blob = excluded.encrypted_blob, updated_at = excluded.updated_at`,
			fingerprint, blob, now, now)
		return err
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

func unwrapAppErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		return ae
	}
	return apperrors.Internal(err.Error())
}
