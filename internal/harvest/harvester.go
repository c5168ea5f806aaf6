package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/tech-intel-harvester/internal/progress"
)

var (
	// ErrEmptyRoster is returned when Run is called without handles.
	ErrEmptyRoster = errors.New("roster is empty")
	// ErrNotConnected is returned when the source has not been authenticated.
	ErrNotConnected = errors.New("source not connected")
)

// Options tunes concurrency, timeouts and retries.
type Options struct {
	// Concurrency caps simultaneously running account workers.
	Concurrency int
	// RequestTimeout bounds each network call.
	RequestTimeout time.Duration
	// MaxAttempts is the total attempt budget per account, first call included.
	MaxAttempts int
	Backoff     Backoff
	// RequestJitter is the mean pause before every network call.
	RequestJitter time.Duration
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		Concurrency:    5,
		RequestTimeout: 15 * time.Second,
		MaxAttempts:    4,
		Backoff:        DefaultBackoff(),
		RequestJitter:  100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = def.Backoff.Base
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = def.Backoff.Max
	}
	if o.RequestJitter < 0 {
		o.RequestJitter = 0
	}
	return o
}

// Option customises a Harvester.
type Option func(*Harvester)

// WithClock overrides the clock used for cutoffs and stats.
func WithClock(c Clock) Option {
	return func(h *Harvester) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithGate supplies a factory for the admission gate of each run.
func WithGate(newGate func(limit int) Gate) Option {
	return func(h *Harvester) {
		if newGate != nil {
			h.newGate = newGate
		}
	}
}

// WithEmitter publishes ACCOUNT_DONE events for every completed account.
func WithEmitter(e progress.Emitter) Option {
	return func(h *Harvester) {
		h.emitter = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Harvester) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSleeper replaces the context-aware sleep used for jitter and backoff.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Harvester) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// Harvester fetches a roster of accounts with bounded concurrency.
type Harvester struct {
	source  Source
	cache   *IdentityCache
	opts    Options
	clock   Clock
	newGate func(limit int) Gate
	emitter progress.Emitter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// New wires a Harvester. A nil cache is replaced by an in-memory one.
func New(source Source, cache *IdentityCache, opts Options, options ...Option) *Harvester {
	h := &Harvester{
		source:  source,
		cache:   cache,
		opts:    opts.withDefaults(),
		clock:   systemClock{},
		newGate: newSemaphoreGate,
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range options {
		opt(h)
	}
	if h.cache == nil {
		h.cache = NewIdentityCache(nil, h.logger)
	}
	return h
}

// Cache exposes the identity cache.
func (h *Harvester) Cache() *IdentityCache {
	return h.cache
}

// Request describes one harvest.
type Request struct {
	RunID  uuid.UUID
	Roster []string
	// Window is how far back posts are kept, relative to the run start.
	Window time.Duration
	// MaxPerAccount caps items requested and kept per account.
	MaxPerAccount int
	Progress      ProgressFunc
}

// Run fetches every handle in the roster and returns the per-account
// results. Per-account failures never surface as an error; only the
// fail-fast conditions do.
func (h *Harvester) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Roster) == 0 {
		return Result{}, ErrEmptyRoster
	}
	if h.source == nil || !h.source.Connected() {
		return Result{}, ErrNotConnected
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	now := h.clock.Now()
	cutoff := now.Add(-req.Window)
	stats := NewStats(now)
	gate := h.newGate(h.opts.Concurrency)
	total := len(req.Roster)

	h.logger.Info("harvest starting",
		zap.String("run_id", req.RunID.String()),
		zap.Int("accounts", total),
		zap.Int("concurrency", h.opts.Concurrency),
		zap.Duration("window", req.Window),
		zap.Time("cutoff", cutoff),
	)

	results := make([]AccountResult, total)
	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		done       int
	)
	for i, handle := range req.Roster {
		wg.Add(1)
		go func(i int, handle string) {
			defer wg.Done()
			res := h.admitAndFetch(ctx, gate, handle, cutoff, req.MaxPerAccount, stats)
			results[i] = res
			h.emitAccount(req.RunID, res)

			progressMu.Lock()
			defer progressMu.Unlock()
			done++
			h.reportProgress(req.Progress, done, total)
		}(i, handle)
	}
	wg.Wait()

	h.cache.Flush(context.WithoutCancel(ctx))

	out := Result{
		Items:    make(map[string][]Item, total),
		Outcomes: make(map[string]Outcome, total),
	}
	for _, res := range results {
		prev, seen := out.Items[res.Handle]
		if seen && (len(prev) > 0 || len(res.Items) == 0) {
			continue
		}
		out.Items[res.Handle] = res.Items
		out.Outcomes[res.Handle] = res.Outcome
	}
	out.Summary = stats.Summary(h.clock.Now())
	out.Summary.Log(h.logger)
	return out, nil
}

// Fetch is Run reduced to the handle-to-items mapping.
func (h *Harvester) Fetch(
	ctx context.Context,
	roster []string,
	window time.Duration,
	perAccountCap int,
	progressFn ProgressFunc,
) (map[string][]Item, Summary, error) {
	res, err := h.Run(ctx, Request{
		Roster:        roster,
		Window:        window,
		MaxPerAccount: perAccountCap,
		Progress:      progressFn,
	})
	if err != nil {
		return nil, Summary{}, err
	}
	return res.Items, res.Summary, nil
}

func (h *Harvester) admitAndFetch(
	ctx context.Context,
	gate Gate,
	handle string,
	cutoff time.Time,
	maxItems int,
	stats *Stats,
) AccountResult {
	if err := gate.Acquire(ctx); err != nil {
		stats.Admit()
		stats.Complete(OutcomeFailed, 0)
		return AccountResult{
			Handle:  handle,
			Items:   []Item{},
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("admission: %w", err),
		}
	}
	defer gate.Release()
	stats.Admit()

	res := h.fetchAccount(ctx, handle, cutoff, maxItems, stats)
	stats.Complete(res.Outcome, res.Latency)

	fields := []zap.Field{
		zap.String("handle", handle),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("items", len(res.Items)),
		zap.Int("attempts", res.Attempts),
		zap.Duration("latency", res.Latency),
	}
	if res.Err != nil {
		h.logger.Warn("account fetch failed", append(fields, zap.Error(res.Err))...)
	} else {
		h.logger.Debug("account fetched", fields...)
	}
	return res
}

func (h *Harvester) emitAccount(runID uuid.UUID, res AccountResult) {
	if h.emitter == nil {
		return
	}
	evt := progress.Event{
		RunID:       progress.UUIDToBytes(runID),
		TS:          h.clock.Now().UTC(),
		Stage:       progress.StageAccountDone,
		Handle:      res.Handle,
		Outcome:     string(res.Outcome),
		Items:       int64(len(res.Items)),
		Attempts:    res.Attempts,
		RateLimited: res.RateLimited,
		CacheHit:    res.CacheHit,
		Dur:         res.Latency,
	}
	if res.Err != nil {
		evt.Note = res.Err.Error()
	}
	h.emitter.Emit(evt)
}

// reportProgress must be called with the progress mutex held.
func (h *Harvester) reportProgress(fn ProgressFunc, done, total int) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("progress callback panic recovered", zap.Any("panic", rec))
		}
	}()
	fn(done, total)
}

type semaphoreGate struct {
	sem *semaphore.Weighted
}

func newSemaphoreGate(limit int) Gate {
	if limit <= 0 {
		limit = 1
	}
	return &semaphoreGate{sem: semaphore.NewWeighted(int64(limit))}
}

func (g *semaphoreGate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *semaphoreGate) Release() {
	g.sem.Release(1)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
