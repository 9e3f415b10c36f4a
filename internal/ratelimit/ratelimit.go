// Package ratelimit implements the per-IP token-bucket limiter guarding
// the authentication and public identity endpoints. It lives outside the
// HTTP middleware so both the router and the WebSocket upgrade path can
// share the same keyed buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default named limits.
const (
	AuthRequestsPerMinute     = 5
	AuthBurst                 = 5
	IdentityRequestsPerMinute = 10
	IdentityBurst             = 10
)

// Limiter is a keyed token bucket: one golang.org/x/time/rate.Limiter per
// key (typically client IP), pruned periodically so abandoned keys do not
// accumulate forever.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*entry
	r       rate.Limit
	burst   int
	idleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// perMinute builds a Limiter allowing requestsPerMinute tokens/min with the
// given burst.
func perMinute(requestsPerMinute float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*entry),
		r:       rate.Limit(requestsPerMinute / 60.0),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// NewAuthLimiter returns the limiter guarding challenge/verify/refresh.
func NewAuthLimiter() *Limiter {
	return perMinute(AuthRequestsPerMinute, AuthBurst)
}

// NewIdentityLimiter returns the limiter guarding public blob/rotation-chain
// lookups.
func NewIdentityLimiter() *Limiter {
	return perMinute(IdentityRequestsPerMinute, IdentityBurst)
}

// Allow reports whether a request keyed by key (e.g. client IP) may proceed,
// consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.r, l.burst)}
		l.buckets[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Prune drops buckets idle longer than idleTTL. Call on an interval from
// the owning process. Only idle entries go; a single busy IP must not evict
// every other tracked peer.
func (l *Limiter) Prune() {
	cutoff := time.Now().Add(-l.idleTTL)
	l.mu.Lock()
	for k, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.mu.Unlock()
}
