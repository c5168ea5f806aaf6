package harvest

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes full-jitter retry delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 60 * time.Second}
}

// Cap returns min(Base*2^(attempt-1), Max) for a 1-indexed retry attempt.
func (b Backoff) Cap(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Base <= 0 {
		return 0
	}
	ceiling := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && ceiling > float64(b.Max) {
		return b.Max
	}
	return time.Duration(ceiling)
}

// Delay returns a uniformly random duration in [0, Cap(attempt)].
func (b Backoff) Delay(attempt int) time.Duration {
	return randomDuration(b.Cap(attempt))
}

// randomDuration returns a uniform duration in [0, limit].
func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// jitterDuration returns base scaled by a uniform factor in [0.5, 1.5].
func jitterDuration(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base/2 + randomDuration(base)
}
