// Package ratelimit paces upstream calls with one token bucket per key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/tech-intel-harvester/internal/metrics"
)

// Limiter manages per-key rate limits. Keys are upstream operation names.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]Rule
	defaultRate  rate.Limit
	defaultBurst int
}

// Rule is a rate and burst for one key.
type Rule struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerKey overrides the default for specific keys.
	PerKey map[string]Rule
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	overrides := make(map[string]Rule, len(cfg.PerKey))
	for k, v := range cfg.PerKey {
		overrides[k] = v
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: toBurst(cfg.DefaultBurst),
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func toBurst(burst int) int {
	if burst <= 0 {
		return 1
	}
	return burst
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if exists {
		return limiter
	}
	if rule, ok := l.overrides[key]; ok {
		limiter = rate.NewLimiter(toLimit(rule.RPS), toBurst(rule.Burst))
	} else {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	}
	l.limiters[key] = limiter
	return limiter
}

// Wait blocks until a token is available for key, respecting the context.
// Waits longer than a millisecond are recorded as rate limit delays.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if key == "" {
		key = "unknown"
	}
	limiter := l.limiterFor(key)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

// Penalize drains the bucket for key so the next call waits a full interval.
// Callers use it after the upstream reports a rate limit.
func (l *Limiter) Penalize(key string) {
	if key == "" {
		key = "unknown"
	}
	limiter := l.limiterFor(key)
	if limiter.Limit() == rate.Inf {
		return
	}
	_ = limiter.ReserveN(time.Now(), limiter.Burst())
}
