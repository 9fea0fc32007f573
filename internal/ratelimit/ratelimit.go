// Package ratelimit provides a token-bucket limiter for inbound SPINE
// frame admission (so a misbehaving peer cannot monopolize the
// dispatcher), and a jitter helper for mDNS browse intervals (§6, 10-20s
// bound, "to avoid thundering-herd").
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a token-bucket limiter.
type Config struct {
	PerSecond float64
	Burst     int
}

// DefaultConfig returns sensible defaults for inbound frame admission.
func DefaultConfig() Config {
	return Config{PerSecond: 50, Burst: 100}
}

// Limiter wraps golang.org/x/time/rate with a reset hook. The service
// shell uses one Limiter, shared by all its SHIP connections, to admit
// inbound frames into the dispatcher.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PerSecond * 2)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether one frame may be admitted now.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Wait blocks until one frame may be admitted, or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Reset restores the limiter to a fresh token bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.config.PerSecond), l.config.Burst)
}

// BrowseJitter returns a pseudo-random interval in [min, max), for pacing
// successive mDNS browse passes so many embedders on a network don't poll
// in lockstep. Nothing in this module calls it.
func BrowseJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rand.Int63n(int64(span)))
}
