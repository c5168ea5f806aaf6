package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// accountWorker drives the fetch state machine for one handle. Attempts for
// the same handle are strictly sequential.
type accountWorker struct {
	h        *Harvester
	handle   string
	cutoff   time.Time
	maxItems int
	stats    *Stats

	attempt      int
	resolvedHere bool
	hitCounted   bool
	result       AccountResult
}

func (h *Harvester) fetchAccount(
	ctx context.Context,
	handle string,
	cutoff time.Time,
	maxItems int,
	stats *Stats,
) (res AccountResult) {
	w := &accountWorker{
		h:        h,
		handle:   handle,
		cutoff:   cutoff,
		maxItems: maxItems,
		stats:    stats,
		attempt:  1,
		result:   AccountResult{Handle: handle, Items: []Item{}},
	}
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			w.result.Items = []Item{}
			w.result.Outcome = OutcomeFailed
			w.result.Err = fmt.Errorf("account worker panic: %v", rec)
			h.logger.Error("account worker panic recovered", zap.String("handle", handle), zap.Any("panic", rec))
		}
		w.result.Latency = time.Since(start)
		res = w.result
	}()
	w.run(ctx)
	return w.result
}

func (w *accountWorker) run(ctx context.Context) {
	state := StateResolving
	var identity Identity
	for {
		switch state {
		case StateResolving:
			id, err := w.resolve(ctx)
			if err != nil {
				state = w.fail(ctx, err)
				continue
			}
			identity = id
			state = StateFetching
		case StateFetching:
			items, err := w.fetch(ctx, identity)
			if err != nil {
				state = w.fail(ctx, err)
				continue
			}
			w.result.Items = items
			w.result.Err = nil
			state = StateSucceeded
		case StateRetrying:
			delay := w.h.opts.Backoff.Delay(w.attempt)
			w.h.logger.Debug("retrying account",
				zap.String("handle", w.handle),
				zap.Int("retry", w.attempt),
				zap.Int("max_attempts", w.h.opts.MaxAttempts),
				zap.Duration("backoff", delay),
			)
			if err := w.h.sleep(ctx, delay); err != nil {
				w.result.Err = fmt.Errorf("backoff interrupted: %w", err)
				state = StateFailed
				continue
			}
			w.attempt++
			state = StateResolving
		case StateSucceeded:
			w.result.Attempts = w.attempt
			w.result.Outcome = OutcomeSucceeded
			if len(w.result.Items) == 0 {
				w.result.Outcome = OutcomeEmpty
			}
			return
		case StateFailed:
			w.result.Attempts = w.attempt
			w.result.Outcome = OutcomeFailed
			w.result.Items = []Item{}
			return
		}
	}
}

// fail classifies err and returns the next state.
func (w *accountWorker) fail(ctx context.Context, err error) State {
	class := Classify(err)
	if class == ClassRateLimited {
		w.stats.RateLimited()
		w.result.RateLimited++
	}
	w.result.Err = err
	if class.Transient() && w.attempt < w.h.opts.MaxAttempts && ctx.Err() == nil {
		return StateRetrying
	}
	return StateFailed
}

func (w *accountWorker) resolve(ctx context.Context) (Identity, error) {
	if identity, ok := w.h.cache.Lookup(w.handle); ok {
		if !w.resolvedHere && !w.hitCounted {
			w.hitCounted = true
			w.result.CacheHit = true
			w.stats.CacheHit()
		}
		return identity, nil
	}
	if err := w.h.sleep(ctx, jitterDuration(w.h.opts.RequestJitter)); err != nil {
		return Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, w.h.opts.RequestTimeout)
	defer cancel()
	identity, err := w.h.source.ResolveIdentity(callCtx, w.handle)
	if err != nil {
		return Identity{}, w.h.callError(ctx, "resolve identity", err)
	}
	if identity.ID == "" {
		return Identity{}, fmt.Errorf("resolve identity: %w", ErrNoIdentity)
	}
	w.h.cache.Store(w.handle, identity)
	w.resolvedHere = true
	return identity, nil
}

func (w *accountWorker) fetch(ctx context.Context, identity Identity) ([]Item, error) {
	if err := w.h.sleep(ctx, jitterDuration(w.h.opts.RequestJitter)); err != nil {
		return nil, fmt.Errorf("fetch activity: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, w.h.opts.RequestTimeout)
	defer cancel()
	raw, err := w.h.source.FetchActivity(callCtx, identity.ID, w.maxItems)
	if err != nil {
		return nil, w.h.callError(ctx, "fetch activity", err)
	}
	return filterRecent(w.handle, identity, raw, w.cutoff, w.maxItems), nil
}

// callError marks per-call deadline expiry as a timeout while leaving
// cancellation of the parent context as is.
func (h *Harvester) callError(parent context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%s timed out after %s: %w", op, h.opts.RequestTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// filterRecent keeps items created at or after cutoff. Items with an
// unparsable timestamp are dropped.
func filterRecent(handle string, identity Identity, raw []RawItem, cutoff time.Time, maxItems int) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		created, err := ParseTimestamp(r.CreatedAt)
		if err != nil || created.Before(cutoff) {
			continue
		}
		items = append(items, Item{
			Handle:      handle,
			DisplayName: identity.Name,
			Followers:   identity.Followers,
			Text:        r.Text,
			CreatedAt:   r.CreatedAt,
			Likes:       r.Likes,
			Shares:      r.Shares,
			Replies:     r.Replies,
		})
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}
	return items
}
