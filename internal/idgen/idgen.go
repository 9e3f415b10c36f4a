// Package idgen mints the time-ordered identifiers used across the schema
// and derives the stable fingerprint used to key rotation chains and bans.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new time-ordered 128-bit id, rendered as its canonical
// Crockford base32 string. Monotonic within a single process so ids created
// in the same millisecond still sort.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Fingerprint derives the stable, rotation-independent user identifier
// from a genesis Ed25519 public key: base32 (no padding) of the first 20
// bytes of SHA-256(pubkey).
func Fingerprint(genesisPubKey []byte) string {
	sum := sha256.Sum256(genesisPubKey)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:20])
}

const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// InviteCode returns a cryptographically random 8-character alphanumeric
// invite code.
func InviteCode() string {
	b := make([]byte, 8)
	raw := make([]byte, 8)
	_, _ = rand.Read(raw)
	for i, c := range raw {
		b[i] = inviteAlphabet[int(c)%len(inviteAlphabet)]
	}
	return string(b)
}
