package identity

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTP(t *testing.T, s *Service) *TOTPManager {
	t.Helper()
	m, err := NewTOTPManager([]byte("totp-test-encryption-key-32bytes"), "test", s.st.Do)
	require.NoError(t, err)
	return m
}

func TestTOTPEnrollConfirmVerify(t *testing.T) {
	s, _ := newTestService(t)
	m := newTestTOTP(t, s)
	kp := newKeypair(t)
	res, fp := registerUser(t, s, kp, "alice")

	secret, uri, err := m.Enroll(context.Background(), res.UserID, "alice")
	require.NoError(t, err)
	assert.Contains(t, uri, "otpauth://")

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background(), res.UserID, code))

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.NoError(t, m.VerifyByFingerprint(context.Background(), fp, code))

	assert.Error(t, m.VerifyByFingerprint(context.Background(), fp, "000000"))
}

func TestTOTPVerifyPassesWhenNotEnrolled(t *testing.T) {
	s, _ := newTestService(t)
	m := newTestTOTP(t, s)
	kp := newKeypair(t)
	_, fp := registerUser(t, s, kp, "alice")

	assert.NoError(t, m.VerifyByFingerprint(context.Background(), fp, "whatever"))
}
