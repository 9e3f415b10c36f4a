package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llanx/UNITED/internal/blocks"
	"github.com/llanx/UNITED/internal/channels"
	"github.com/llanx/UNITED/internal/dm"
	"github.com/llanx/UNITED/internal/gateway"
	"github.com/llanx/UNITED/internal/identity"
	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/moderation"
	"github.com/llanx/UNITED/internal/ratelimit"
	"github.com/llanx/UNITED/internal/store"
	"github.com/llanx/UNITED/internal/voice"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Deps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	tokens := identity.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), "test")
	idService := identity.NewService(st, identity.NewChallengeStore(nil), tokens)
	totp, err := identity.NewTOTPManager([]byte("totp-test-encryption-key-32bytes"), "test", st.Do)
	require.NoError(t, err)
	blockStore, err := blocks.NewStore(st, t.TempDir(), 0)
	require.NoError(t, err)

	d := &Deps{
		Store:      st,
		Identity:   idService,
		Tokens:     tokens,
		TOTP:       totp,
		Channels:   channels.NewService(st),
		Moderation: moderation.NewService(st),
		Blocks:     blockStore,
		Voice:      voice.NewRooms(0),
		DM:         dm.NewService(st),
		Gateway:    gateway.New(zerolog.Nop()),

		AuthLimiter:     ratelimit.NewAuthLimiter(),
		IdentityLimiter: ratelimit.NewIdentityLimiter(),

		RegistrationMode: "open",
		ServerName:       "test",
		ServerDesc:       "test server",

		Log: zerolog.Nop(),
	}
	RegisterGatewayHandlers(d)
	return NewRouter(d), d
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndServerInfo(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/server/info", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "open", info["registration_mode"])
}

func TestAuthRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	fp := idgen.Fingerprint(pub)

	w := doJSON(t, r, http.MethodPost, "/api/auth/register", map[string]string{
		"public_key":        hex.EncodeToString(pub),
		"fingerprint":       fp,
		"display_name":      "alice",
		"encrypted_blob":    hex.EncodeToString([]byte("opaque")),
		"genesis_signature": hex.EncodeToString(ed25519.Sign(priv, append([]byte("genesis:"), pub...))),
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/auth/challenge", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ch struct {
		ChallengeID string `json:"challenge_id"`
		Bytes       string `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ch))
	raw, err := hex.DecodeString(ch.Bytes)
	require.NoError(t, err)

	w = doJSON(t, r, http.MethodPost, "/api/auth/verify", map[string]string{
		"challenge_id": ch.ChallengeID,
		"public_key":   hex.EncodeToString(pub),
		"signature":    hex.EncodeToString(ed25519.Sign(priv, raw)),
		"fingerprint":  fp,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var toks struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toks))
	require.NotEmpty(t, toks.AccessToken)

	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": toks.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": toks.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a consumed refresh token must be rejected")
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	r, _ := newTestRouter(t)

	var last int
	for i := 0; i < ratelimit.AuthBurst+1; i++ {
		w := doJSON(t, r, http.MethodPost, "/api/auth/challenge", nil, nil)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/channels", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/channels", nil, map[string]string{"Authorization": "Bearer notatoken"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func registerAndLogin(t *testing.T, r http.Handler, name string) (accessToken, fingerprint string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	fp := idgen.Fingerprint(pub)
	w := doJSON(t, r, http.MethodPost, "/api/auth/register", map[string]string{
		"public_key":        hex.EncodeToString(pub),
		"fingerprint":       fp,
		"display_name":      name,
		"encrypted_blob":    hex.EncodeToString([]byte("opaque")),
		"genesis_signature": hex.EncodeToString(ed25519.Sign(priv, append([]byte("genesis:"), pub...))),
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var toks struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toks))
	return toks.AccessToken, fp
}

func TestBlockPutGetOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)
	token, _ := registerAndLogin(t, r, "alice")
	auth := map[string]string{"Authorization": "Bearer " + token}

	body := []byte("hello")
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	req := httptest.NewRequest(http.MethodPut, "/api/blocks", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Block-Hash", hash)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/blocks/"+hash, nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.Bytes())

	req = httptest.NewRequest(http.MethodPut, "/api/blocks", strings.NewReader("tampered"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Block-Hash", hash)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "hash mismatch must be rejected")
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bogus"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "the handshake itself must complete so the close code is visible")
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, gateway.CloseTokenInvalid, closeErr.Code)
}
