package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errNotFound = errors.New("user not found")

// fakeSource serves identities and items from memory. Handles listed in
// resolveFailures fail that many times with the given error first.
type fakeSource struct {
	mu              sync.Mutex
	connected       bool
	identities      map[string]Identity
	items           map[string][]RawItem
	resolveFailures map[string]int
	resolveErr      map[string]error
	fetchErr        map[string]error
	resolveCalls    map[string]int
	fetchCalls      map[string]int
	fetchCounts     []int
	fetchDelay      time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		connected:       true,
		identities:      make(map[string]Identity),
		items:           make(map[string][]RawItem),
		resolveFailures: make(map[string]int),
		resolveErr:      make(map[string]error),
		fetchErr:        make(map[string]error),
		resolveCalls:    make(map[string]int),
		fetchCalls:      make(map[string]int),
	}
}

func (f *fakeSource) addAccount(handle, id string, items ...RawItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[strings.ToLower(handle)] = Identity{ID: id, Name: strings.ToUpper(handle), Followers: len(handle) * 100}
	f.items[id] = items
}

func (f *fakeSource) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSource) ResolveIdentity(_ context.Context, handle string) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(handle)
	f.resolveCalls[key]++
	if f.resolveFailures[key] > 0 {
		f.resolveFailures[key]--
		return Identity{}, f.resolveErr[key]
	}
	identity, ok := f.identities[key]
	if !ok {
		return Identity{}, errNotFound
	}
	return identity, nil
}

func (f *fakeSource) FetchActivity(ctx context.Context, userID string, count int) ([]RawItem, error) {
	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[userID]++
	f.fetchCounts = append(f.fetchCounts, count)
	if err := f.fetchErr[userID]; err != nil {
		return nil, err
	}
	return append([]RawItem(nil), f.items[userID]...), nil
}

func (f *fakeSource) resolves(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls[strings.ToLower(handle)]
}

func (f *fakeSource) fetches(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[id]
}

// memoryStore is an in-memory CacheStore.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]Identity
	loadErr error
	saveErr error
	saves   int
}

func (m *memoryStore) Load(context.Context) (map[string]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]Identity, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) Save(_ context.Context, entries map[string]Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries = make(map[string]Identity, len(entries))
	for k, v := range entries {
		m.entries[k] = v
	}
	return nil
}

// countingGate wraps a channel semaphore and records the peak number of
// concurrent holders.
type countingGate struct {
	slots   chan struct{}
	current atomic.Int64
	peak    atomic.Int64
}

func newCountingGate(limit int) *countingGate {
	return &countingGate{slots: make(chan struct{}, limit)}
}

func (g *countingGate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	n := g.current.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

func (g *countingGate) Release() {
	g.current.Add(-1)
	<-g.slots
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// sleepRecorder never blocks and remembers the requested durations.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testOptions() Options {
	return Options{
		Concurrency:    5,
		RequestTimeout: time.Second,
		MaxAttempts:    4,
		Backoff:        Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond},
		RequestJitter:  0,
	}
}

func ts(t time.Time) string {
	return t.Format(TimestampLayout)
}

func rawAt(t time.Time, text string) RawItem {
	return RawItem{Text: text, CreatedAt: ts(t), Likes: 1}
}

func handles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "user" + strconv.Itoa(i)
	}
	return out
}

func timeoutErr(handle string) error {
	return fmt.Errorf("request for %s timed out", handle)
}
