package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
	jwtSecretBytes  = 32
)

// Claims is the access-token payload: subject (user id), fingerprint,
// and the owner/admin flags permission checks read without a DB hit.
type Claims struct {
	Fingerprint string `json:"fingerprint"`
	IsOwner     bool   `json:"is_owner"`
	IsAdmin     bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates access tokens and manages refresh-token
// rotation. The signing secret is persisted at {data_dir}/jwt_secret and
// regenerated if the file is the wrong size.
type TokenManager struct {
	secret []byte
	issuer string
}

// LoadOrCreateSecret reads a 32-byte secret from path, creating one with
// crypto/rand if the file is missing or the wrong size.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == jwtSecretBytes {
		return data, nil
	}

	secret := make([]byte, jwtSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("identity: generating secret: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("identity: persisting secret: %w", err)
	}
	return secret, nil
}

func NewTokenManager(secret []byte, issuer string) *TokenManager {
	if issuer == "" {
		issuer = "united"
	}
	return &TokenManager{secret: secret, issuer: issuer}
}

// GenerateAccessToken signs a 15-minute HS256 JWT for userID/fingerprint.
func (m *TokenManager) GenerateAccessToken(userID, fingerprint string, isOwner, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		Fingerprint: fingerprint,
		IsOwner:     isOwner,
		IsAdmin:     isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

var (
	ErrInvalidToken = errors.New("identity: invalid access token")
	ErrTokenExpired = errors.New("identity: access token expired")
)

// ParseAccessToken validates signature, expiry and algorithm. Only HS256 is
// accepted. Expiry is reported distinctly because the WebSocket upgrade
// surfaces it as its own close code.
func (m *TokenManager) ParseAccessToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken returns a 32-byte random hex plaintext token and its
// SHA-256 hash for storage. Only the hash is ever persisted.
func NewRefreshToken() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = hex.EncodeToString(raw)
	hash = HashRefreshToken(plaintext)
	return plaintext, hash, nil
}

func HashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// RefreshTokenTTL and AccessTokenTTL are exported for callers that need to
// compute expires_at columns without importing unexported constants.
func RefreshTokenTTL() time.Duration { return refreshTokenTTL }
func AccessTokenTTL() time.Duration  { return accessTokenTTL }
