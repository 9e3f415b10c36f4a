package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowConsumesBurstThenRejects(t *testing.T) {
	l := NewAuthLimiter()
	for i := 0; i < AuthBurst; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d should be inside the burst", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewAuthLimiter()
	for i := 0; i < AuthBurst; i++ {
		l.Allow("1.2.3.4")
	}
	assert.True(t, l.Allow("5.6.7.8"), "exhausting one key must not affect another")
}

func TestPruneDropsOnlyIdleBuckets(t *testing.T) {
	l := NewAuthLimiter()
	l.Allow("old")
	l.Allow("fresh")

	l.mu.Lock()
	l.buckets["old"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.Prune()

	l.mu.Lock()
	_, oldKept := l.buckets["old"]
	_, freshKept := l.buckets["fresh"]
	l.mu.Unlock()
	assert.False(t, oldKept)
	assert.True(t, freshKept)
}
