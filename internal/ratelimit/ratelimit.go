// Package ratelimit throttles the HTTP surface (spec §6) per API key,
// adapted from the teacher's infrastructure/ratelimit: a token bucket per
// key instead of one global bucket, since a single noisy module manager
// instance must not starve every other caller sharing the core.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the token bucket shared by every key.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// IdleEvictAfter drops a key's bucket once it has gone unused for
	// this long, so long-running processes don't accumulate one bucket
	// per distinct API key forever.
	IdleEvictAfter time.Duration
}

// DefaultConfig mirrors the teacher's default (100 rps, burst 200).
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleEvictAfter:    10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter is a per-key rate limiter for the HTTP surface.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
}

// New returns a Limiter configured by cfg.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Allow reports whether key may make one more request right now,
// consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastUsed = time.Now()
	return b.limiter.Allow()
}

// EvictIdle drops buckets that have gone unused past IdleEvictAfter.
// Intended to be called periodically by internal/sweeper.
func (l *Limiter) EvictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.cfg.IdleEvictAfter)
	dropped := 0
	for key, b := range l.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Size returns the number of tracked keys, for diagnostics/tests.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
