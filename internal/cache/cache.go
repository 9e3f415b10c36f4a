// Package cache mirrors short-lived authentication state into Redis so a
// horizontally scaled deployment can verify a challenge issued by any node.
// The mirror is strictly best-effort: the in-memory challenge map stays
// authoritative, and every Redis failure degrades to single-node behavior
// rather than surfacing to the client.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const opTimeout = 3 * time.Second

// ChallengeMirror implements identity.Mirror on top of a Redis client.
type ChallengeMirror struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewChallengeMirror connects to addr and pings once to surface obvious
// misconfiguration at startup. A failed ping is logged, not fatal — the
// mirror still tries each operation and keeps degrading gracefully.
func NewChallengeMirror(addr string, log zerolog.Logger) *ChallengeMirror {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		MaxRetries:   3,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, challenge mirroring degraded")
	}
	return &ChallengeMirror{client: client, log: log}
}

func challengeKey(id string) string { return "united:challenge:" + id }

// Put replicates a freshly issued challenge with its remaining TTL.
func (m *ChallengeMirror) Put(id string, bytes []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := m.client.Set(ctx, challengeKey(id), bytes, ttl).Err(); err != nil {
		m.log.Debug().Err(err).Msg("challenge mirror put failed")
	}
}

// Delete removes a consumed challenge from the mirror so no other node can
// accept it a second time.
func (m *ChallengeMirror) Delete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := m.client.Del(ctx, challengeKey(id)).Err(); err != nil {
		m.log.Debug().Err(err).Msg("challenge mirror delete failed")
	}
}

// Close releases the underlying connection pool.
func (m *ChallengeMirror) Close() error {
	return m.client.Close()
}
