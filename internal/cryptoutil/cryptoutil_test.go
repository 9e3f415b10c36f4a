package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt := []byte("fixed-salt")
	a, err := DeriveKey([]byte("hash-one"), salt, []byte("info"))
	require.NoError(t, err)
	b, err := DeriveKey([]byte("hash-one"), salt, []byte("info"))
	require.NoError(t, err)
	c, err := DeriveKey([]byte("hash-two"), salt, []byte("info"))
	require.NoError(t, err)

	assert.Equal(t, a, b, "same input material must derive the same key")
	assert.NotEqual(t, a, c, "different input material must derive different keys")
	assert.Len(t, a, 32)
}

func TestDeriveKeySeparatesDomains(t *testing.T) {
	salt := []byte("fixed-salt")
	a, _ := DeriveKey([]byte("hash"), salt, []byte("domain-a"))
	b, _ := DeriveKey([]byte("hash"), salt, []byte("domain-b"))
	assert.NotEqual(t, a, b)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey([]byte("material"), []byte("salt"), []byte("info"))
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	sealed, err := Seal(key, plaintext, []byte("aad"))
	require.NoError(t, err)

	got, err := Open(key, sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = Open(key, sealed, []byte("wrong-aad"))
	assert.Error(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Open(key, sealed, []byte("aad"))
	assert.Error(t, err, "a tampered ciphertext must not open")
}

func TestOpenRejectsTruncatedInput(t *testing.T) {
	key, _ := DeriveKey([]byte("material"), []byte("salt"), []byte("info"))
	_, err := Open(key, []byte("short"), nil)
	assert.Error(t, err)
}
