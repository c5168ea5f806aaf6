package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tech-intel-harvester/internal/progress"
)

// PrometheusSink turns progress events into harvest metrics.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	runsInFlight   prometheus.Gauge
	runWall        *prometheus.HistogramVec
	accounts       *prometheus.CounterVec
	accountLatency *prometheus.HistogramVec
	items          prometheus.Counter
	rateLimitHits  prometheus.Counter
	cacheHits      prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Harvest runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Harvest runs completed, partitioned by result.",
		}, []string{"result"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_in_flight",
			Help: "Harvest runs currently executing.",
		}),
		runWall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_wall_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_accounts_total",
			Help: "Accounts fetched, partitioned by outcome.",
		}, []string{"outcome"}),
		accountLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_account_latency_seconds",
			Help:    "Per-account wall time including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
		}, []string{"outcome"}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Posts kept after recency filtering.",
		}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_rate_limit_hits_total",
			Help: "Rate-limited attempts seen by account workers.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_identity_cache_hits_total",
			Help: "Accounts whose identity was served from the cache.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsInFlight,
		s.runWall,
		s.accounts,
		s.accountLatency,
		s.items,
		s.rateLimitHits,
		s.cacheHits,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsInFlight.Inc()
			}
		case progress.StageRunDone:
			s.finishRun(evt, "success")
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StageAccountDone:
			s.observeAccount(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runWall.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsInFlight.Dec()
	}
}

func (s *PrometheusSink) observeAccount(evt progress.Event) {
	outcome := evt.Outcome
	s.accounts.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.accountLatency.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	if evt.Items > 0 {
		s.items.Add(float64(evt.Items))
	}
	if evt.RateLimited > 0 {
		s.rateLimitHits.Add(float64(evt.RateLimited))
	}
	if evt.CacheHit {
		s.cacheHits.Inc()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
