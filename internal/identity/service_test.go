package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llanx/UNITED/internal/idgen"
	"github.com/llanx/UNITED/internal/models"
	"github.com/llanx/UNITED/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	tokens := NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), "test")
	return NewService(st, NewChallengeStore(nil), tokens), st
}

type testKeypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newKeypair(t *testing.T) testKeypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testKeypair{pub: pub, priv: priv}
}

func registerUser(t *testing.T, s *Service, kp testKeypair, name string) (*AuthResult, string) {
	t.Helper()
	fp := idgen.Fingerprint(kp.pub)
	res, err := s.Register(context.Background(), RegisterInput{
		PublicKey:        kp.pub,
		Fingerprint:      fp,
		DisplayName:      name,
		EncryptedBlob:    []byte("opaque"),
		GenesisSig:       ed25519.Sign(kp.priv, genesisSignedBytes(kp.pub)),
		RegistrationMode: "open",
	}, nil)
	require.NoError(t, err)
	return res, fp
}

func TestRegisterThenChallengeVerify(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")

	cid, raw, err := s.IssueChallenge(context.Background())
	require.NoError(t, err)

	res, err := s.Verify(context.Background(), cid, kp.pub, ed25519.Sign(kp.priv, raw), fp)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
}

func TestChallengeIsSingleUse(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")

	cid, raw, err := s.IssueChallenge(context.Background())
	require.NoError(t, err)
	sig := ed25519.Sign(kp.priv, raw)

	_, err = s.Verify(context.Background(), cid, kp.pub, sig, fp)
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), cid, kp.pub, sig, fp)
	assert.Error(t, err, "a consumed challenge must not verify twice")
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	other := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")

	cid, raw, err := s.IssueChallenge(context.Background())
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), cid, kp.pub, ed25519.Sign(other.priv, raw), fp)
	assert.Error(t, err)
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	res, _ := registerUser(t, s, kp, "alice")

	next, err := s.Refresh(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.RefreshToken, next.RefreshToken)

	_, err = s.Refresh(context.Background(), res.RefreshToken)
	assert.Error(t, err, "presenting the same refresh token twice must fail")
}

func TestRegisterRejectsMismatchedFingerprint(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, err := s.Register(context.Background(), RegisterInput{
		PublicKey:        kp.pub,
		Fingerprint:      "NOTAREALFINGERPRINT",
		DisplayName:      "mallory",
		GenesisSig:       ed25519.Sign(kp.priv, genesisSignedBytes(kp.pub)),
		RegistrationMode: "open",
	}, nil)
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicateDisplayName(t *testing.T) {
	s, _ := newTestService(t)
	registerUser(t, s, newKeypair(t), "alice")

	kp := newKeypair(t)
	_, err := s.Register(context.Background(), RegisterInput{
		PublicKey:        kp.pub,
		Fingerprint:      idgen.Fingerprint(kp.pub),
		DisplayName:      "alice",
		GenesisSig:       ed25519.Sign(kp.priv, genesisSignedBytes(kp.pub)),
		RegistrationMode: "open",
	}, nil)
	assert.Error(t, err)
}

func TestSetupTokenMakesFirstUserOwner(t *testing.T) {
	s, _ := newTestService(t)

	token, err := s.EnsureSetupToken(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	again, err := s.EnsureSetupToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again, "a pending token must not be re-minted")

	kp := newKeypair(t)
	res, err := s.Register(context.Background(), RegisterInput{
		PublicKey:        kp.pub,
		Fingerprint:      idgen.Fingerprint(kp.pub),
		DisplayName:      "owner",
		EncryptedBlob:    []byte("opaque"),
		GenesisSig:       ed25519.Sign(kp.priv, genesisSignedBytes(kp.pub)),
		SetupToken:       token,
		RegistrationMode: "invite-only",
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.IsOwner)
}

func TestRotationChainStartsWithGenesis(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")

	chain, err := s.RotationChain(context.Background(), fp)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, models.RotationGenesis, chain[0].Kind)
	assert.Nil(t, chain[0].PrevKey)
	assert.Equal(t, []byte(kp.pub), chain[0].NewKey)
}

func rotateInput(t *testing.T, old, next testKeypair, reason string) RotateInput {
	t.Helper()
	payload := rotationSignedBytes(old.pub, next.pub, reason)
	return RotateInput{
		PrevKey: old.pub,
		NewKey:  next.pub,
		Reason:  reason,
		SigOld:  ed25519.Sign(old.priv, payload),
		SigNew:  ed25519.Sign(next.priv, payload),
	}
}

func TestRotateReplacesKeyAndInvalidatesRefresh(t *testing.T) {
	s, st := newTestService(t)
	kp := newKeypair(t)
	res, fp := registerUser(t, s, kp, "alice")
	next := newKeypair(t)

	require.NoError(t, s.Rotate(context.Background(), fp, rotateInput(t, kp, next, "scheduled")))

	var currentKey []byte
	require.NoError(t, st.Do(context.Background(), func(db *sql.DB) error {
		return db.QueryRow(`SELECT public_key FROM users WHERE fingerprint = ?`, fp).Scan(&currentKey)
	}))
	assert.Equal(t, []byte(next.pub), currentKey)

	_, err := s.Refresh(context.Background(), res.RefreshToken)
	assert.Error(t, err, "rotation must invalidate existing refresh tokens")
}

func TestRotateRejectsConcurrentPendingRotation(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")
	next := newKeypair(t)

	require.NoError(t, s.Rotate(context.Background(), fp, rotateInput(t, kp, next, "scheduled")))

	third := newKeypair(t)
	err := s.Rotate(context.Background(), fp, rotateInput(t, next, third, "scheduled"))
	assert.Error(t, err, "a second rotation inside the cancel window must be rejected")
}

func TestCancelRotationRevertsKey(t *testing.T) {
	s, st := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")
	next := newKeypair(t)

	require.NoError(t, s.Rotate(context.Background(), fp, rotateInput(t, kp, next, "scheduled")))

	sig := ed25519.Sign(kp.priv, cancelSignedBytes(fp))
	require.NoError(t, s.CancelRotation(context.Background(), fp, sig))

	var currentKey []byte
	require.NoError(t, st.Do(context.Background(), func(db *sql.DB) error {
		return db.QueryRow(`SELECT public_key FROM users WHERE fingerprint = ?`, fp).Scan(&currentKey)
	}))
	assert.Equal(t, []byte(kp.pub), currentKey, "cancel must revert to the pre-rotation key")

	chain, err := s.RotationChain(context.Background(), fp)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, chain[1].Cancelled)
}

func TestCancelRotationRequiresOldKeySignature(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")
	next := newKeypair(t)

	require.NoError(t, s.Rotate(context.Background(), fp, rotateInput(t, kp, next, "compromise")))

	sig := ed25519.Sign(next.priv, cancelSignedBytes(fp))
	assert.Error(t, s.CancelRotation(context.Background(), fp, sig),
		"the new key must not be able to cancel its own rotation")
}

func TestBlobSizeCap(t *testing.T) {
	s, _ := newTestService(t)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")

	err := s.PutBlob(context.Background(), fp, make([]byte, maxBlobSize+1))
	assert.Error(t, err)

	require.NoError(t, s.PutBlob(context.Background(), fp, []byte("updated blob")))
	got, err := s.GetBlob(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated blob"), got)
}
