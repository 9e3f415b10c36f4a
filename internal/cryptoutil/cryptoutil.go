// Package cryptoutil holds the small set of symmetric-crypto primitives
// shared by the block store (content-derived keys) and identity package
// (TOTP secret wrapping): AES-256-GCM with a 12-byte nonce prefix, and an
// HKDF-SHA256 key-derivation helper for domain-separated keys.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

const nonceSize = 12

func newSHA256() hash.Hash { return sha256.New() }

// DeriveKey runs HKDF-SHA256 over ikm with the given salt/info, returning a
// 32-byte key suitable for AES-256-GCM. salt and info provide domain
// separation between callers that derive from the same input key material.
func DeriveKey(ikm, salt, info []byte) ([]byte, error) {
	r := hkdf.New(newSHA256, ikm, salt, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under key, returning
// nonce || ciphertext || tag, the at-rest layout shared by block files and
// the wrapped TOTP secret.
func Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := gcm.Seal(nonce, nonce, plaintext, additionalData)
	return out, nil
}

// Open reverses Seal: sealed must be at least nonceSize+tagSize bytes.
func Open(key, sealed, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize+gcm.Overhead() {
		return nil, errors.New("cryptoutil: sealed data too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, additionalData)
}
