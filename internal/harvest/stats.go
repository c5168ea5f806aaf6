package harvest

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats accumulates per-run counters and latency samples. It is safe for
// concurrent use by account workers.
type Stats struct {
	mu          sync.Mutex
	started     time.Time
	total       int
	success     int
	empty       int
	rateLimited int
	failed      int
	cacheHits   int
	latenciesMS []float64
}

// Summary is the end-of-run view of Stats.
type Summary struct {
	Started     time.Time     `json:"started"`
	Wall        time.Duration `json:"wall"`
	Total       int           `json:"total"`
	Success     int           `json:"success"`
	Empty       int           `json:"empty"`
	RateLimited int           `json:"rate_limited"`
	Failed      int           `json:"failed"`
	CacheHits   int           `json:"cache_hits"`
	SuccessRate float64       `json:"success_rate"`
	P50MS       float64       `json:"p50_ms"`
	P95MS       float64       `json:"p95_ms"`
	P99MS       float64       `json:"p99_ms"`
}

// NewStats starts a collector at the given time.
func NewStats(started time.Time) *Stats {
	return &Stats{started: started}
}

// Admit counts one account entering the admission gate.
func (s *Stats) Admit() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

// RateLimited counts one rate-limited attempt.
func (s *Stats) RateLimited() {
	s.mu.Lock()
	s.rateLimited++
	s.mu.Unlock()
}

// CacheHit counts one identity served from the cache.
func (s *Stats) CacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// Complete records the terminal outcome and latency of one account.
func (s *Stats) Complete(outcome Outcome, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latenciesMS = append(s.latenciesMS, float64(latency)/float64(time.Millisecond))
	switch outcome {
	case OutcomeEmpty:
		s.success++
		s.empty++
	case OutcomeSucceeded:
		s.success++
	default:
		s.failed++
	}
}

// Summary computes percentiles and rates at now.
func (s *Stats) Summary(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Started:     s.started,
		Wall:        now.Sub(s.started),
		Total:       s.total,
		Success:     s.success,
		Empty:       s.empty,
		RateLimited: s.rateLimited,
		Failed:      s.failed,
		CacheHits:   s.cacheHits,
		P50MS:       Percentile(s.latenciesMS, 0.50),
		P95MS:       Percentile(s.latenciesMS, 0.95),
		P99MS:       Percentile(s.latenciesMS, 0.99),
	}
	if s.total > 0 {
		sum.SuccessRate = float64(s.success) / float64(s.total) * 100
	}
	return sum
}

// Percentile returns the nearest-rank percentile of samples, where
// rank = max(0, ceil(N*pct)-1). It returns 0 for no samples.
func Percentile(samples []float64, pct float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(float64(len(sorted))*pct)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Log writes the summary as one structured line.
func (s Summary) Log(logger *zap.Logger) {
	logger.Info("harvest stats",
		zap.Duration("wall", s.Wall),
		zap.Int("accounts", s.Total),
		zap.Int("success", s.Success),
		zap.Float64("success_rate", s.SuccessRate),
		zap.Int("empty", s.Empty),
		zap.Float64("p50_ms", s.P50MS),
		zap.Float64("p95_ms", s.P95MS),
		zap.Float64("p99_ms", s.P99MS),
		zap.Int("rate_limit_hits", s.RateLimited),
		zap.Int("hard_failures", s.Failed),
		zap.Int("cache_hits", s.CacheHits),
	)
}
