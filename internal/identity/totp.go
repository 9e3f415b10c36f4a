package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/cryptoutil"
	"github.com/pquerna/otp/totp"
)

var (
	totpInfoSecret = []byte("united:totp-secret-wrap")
	totpSalt       = []byte("united-totp-v1")
)

// storeDo matches store.Store.Do's signature without importing the store
// package directly, keeping TOTPManager constructible from either the
// identity.Service or a test double.
type storeDo func(ctx context.Context, fn func(db *sql.DB) error) error

// TOTPManager wraps enrollment secrets at rest with AES-256-GCM, the key
// derived via HKDF from the server's persisted encryption key at
// {data_dir}/encryption_key.
type TOTPManager struct {
	do      storeDo
	issuer  string
	wrapKey []byte
}

func NewTOTPManager(encryptionKey []byte, issuer string, do storeDo) (*TOTPManager, error) {
	wrapKey, err := cryptoutil.DeriveKey(encryptionKey, totpSalt, totpInfoSecret)
	if err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = "united"
	}
	return &TOTPManager{do: do, issuer: issuer, wrapKey: wrapKey}, nil
}

// Enroll generates a new secret, stores it (encrypted, unconfirmed) and
// returns the raw secret plus an otpauth:// URI for QR display.
func (m *TOTPManager) Enroll(ctx context.Context, userID, accountName string) (secret string, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: m.issuer, AccountName: accountName})
	if err != nil {
		return "", "", apperrors.Internal(err.Error())
	}

	sealed, err := cryptoutil.Seal(m.wrapKey, []byte(key.Secret()), []byte(userID))
	if err != nil {
		return "", "", apperrors.Internal(err.Error())
	}

	err = m.do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE users SET totp_secret_enc = ?, totp_enrolled = 0, updated_at = ? WHERE id = ?`,
			sealed, time.Now().UTC().Format(time.RFC3339), userID)
		return err
	})
	if err != nil {
		return "", "", apperrors.Internal(err.Error())
	}

	return key.Secret(), key.URL(), nil
}

// Confirm verifies the first code and marks enrollment complete.
func (m *TOTPManager) Confirm(ctx context.Context, userID, code string) error {
	secret, err := m.loadSecret(ctx, userID)
	if err != nil {
		return err
	}
	if !totp.Validate(code, secret) {
		return apperrors.Unauthorized("invalid TOTP code")
	}
	err = m.do(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE users SET totp_enrolled = 1, updated_at = ? WHERE id = ?`, time.Now().UTC().Format(time.RFC3339), userID)
		return err
	})
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	return nil
}

// VerifyByFingerprint checks a login-time code. If the user never enrolled,
// verification passes automatically.
func (m *TOTPManager) VerifyByFingerprint(ctx context.Context, fingerprint, code string) error {
	var userID string
	var enrolled bool
	var sealed []byte
	err := m.do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT id, totp_enrolled, totp_secret_enc FROM users WHERE fingerprint = ?`, fingerprint).
			Scan(&userID, &enrolled, &sealed)
	})
	if err == sql.ErrNoRows {
		return apperrors.Unauthorized("unknown fingerprint")
	}
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	if !enrolled {
		return nil
	}
	secret, err := cryptoutil.Open(m.wrapKey, sealed, []byte(userID))
	if err != nil {
		return apperrors.Internal(err.Error())
	}
	if !totp.Validate(code, string(secret)) {
		return apperrors.Unauthorized("invalid TOTP code")
	}
	return nil
}

func (m *TOTPManager) loadSecret(ctx context.Context, userID string) (string, error) {
	var sealed []byte
	err := m.do(ctx, func(db *sql.DB) error {
		return db.QueryRow(`SELECT totp_secret_enc FROM users WHERE id = ?`, userID).Scan(&sealed)
	})
	if err == sql.ErrNoRows {
		return "", apperrors.NotFound("user")
	}
	if err != nil {
		return "", apperrors.Internal(err.Error())
	}
	secret, err := cryptoutil.Open(m.wrapKey, sealed, []byte(userID))
	if err != nil {
		return "", apperrors.Internal(err.Error())
	}
	return string(secret), nil
}
