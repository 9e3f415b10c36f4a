// Package identity implements the authentication and key-lifecycle
// subsystem: challenge/response login, access + refresh tokens,
// registration, key rotation with a cancellation window, and optional
// TOTP. It owns the sqlite tables created by store's migration 1.
package identity

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const challengeTTL = 60 * time.Second

// ChallengeStore is the in-memory, single-shot challenge map: 60-second
// TTL, consumed exactly once. A sync.Mutex-guarded map is sufficient for a
// single node; an injected Mirror optionally replicates entries to Redis
// so a future multi-node deployment can share challenges without changing
// call sites.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	mirror  Mirror
}

type challengeEntry struct {
	bytes     []byte
	expiresAt time.Time
}

// Mirror optionally replicates challenge state to an external cache (Redis)
// so a horizontally scaled deployment can authenticate against any node.
// It is best-effort: failures are ignored, the in-memory map is always
// authoritative for the node that issued the challenge.
type Mirror interface {
	Put(id string, bytes []byte, ttl time.Duration)
	Delete(id string)
}

func NewChallengeStore(mirror Mirror) *ChallengeStore {
	return &ChallengeStore{entries: make(map[string]challengeEntry), mirror: mirror}
}

// Issue creates a new 32-byte random challenge, stores it for 60s, and
// returns its id and raw bytes.
func (c *ChallengeStore) Issue() (id string, bytes []byte, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	id = uuid.NewString()

	c.mu.Lock()
	c.entries[id] = challengeEntry{bytes: b, expiresAt: time.Now().Add(challengeTTL)}
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.Put(id, b, challengeTTL)
	}
	return id, b, nil
}

// ErrChallengeExpired/ErrChallengeNotFound distinguish the Gone vs
// BadRequest outcomes surfaced to the client.
var (
	ErrChallengeNotFound = &challengeError{"challenge not found"}
	ErrChallengeExpired  = &challengeError{"challenge expired"}
)

type challengeError struct{ msg string }

func (e *challengeError) Error() string { return e.msg }

// Consume atomically removes and returns a challenge's bytes — single-shot,
// so a second call for the same id always fails.
func (c *ChallengeStore) Consume(id string) ([]byte, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.Delete(id)
	}

	if !ok {
		return nil, ErrChallengeNotFound
	}
	if time.Now().After(entry.expiresAt) {
		return nil, ErrChallengeExpired
	}
	return entry.bytes, nil
}

// Sweep removes expired entries so the map does not grow unbounded under a
// slow drip of abandoned challenges. Scheduled periodically by process
// wiring.
func (c *ChallengeStore) Sweep() {
	now := time.Now()
	c.mu.Lock()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
}
