package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
	"github.com/JakeFAU/tech-intel-harvester/internal/progress"
	pubmemory "github.com/JakeFAU/tech-intel-harvester/internal/publisher/memory"
	"github.com/JakeFAU/tech-intel-harvester/internal/report"
	"github.com/JakeFAU/tech-intel-harvester/internal/storage/memory"
)

const testRunID = "0190c1a2-7d3e-7c4f-8a9b-0123456789ab"

func TestWorker_Process_SuccessFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.harvester.result = harvest.Result{
		Items: map[string][]harvest.Item{
			"sama":    {{Handle: "sama", Text: "shipping", Likes: 10}},
			"karpath": {},
		},
		Outcomes: map[string]harvest.Outcome{
			"sama":    harvest.OutcomeSucceeded,
			"karpath": harvest.OutcomeEmpty,
		},
		Summary: harvest.Summary{Total: 2, Success: 1, Empty: 1},
	}

	err := env.worker.Process(context.Background(), pipeline.QueueItem{
		RunID:  testRunID,
		Params: pipeline.RunParameters{Roster: []string{"@sama", "karpath", "SAMA"}, WindowHours: 6},
	})
	require.NoError(t, err)

	run, err := env.runs.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	require.Equal(t, pipeline.PhaseComplete, run.Phase)
	require.Equal(t, pipeline.ProgressComplete, run.Progress)
	require.NotNil(t, run.Result)
	require.Equal(t, "20240102_030405_abcdef", run.Result.ReportID)
	require.Equal(t, "memory://reports/20240102_030405_abcdef.json", run.Result.ReportURI)
	require.Equal(t, 1, run.Result.TotalItems)
	require.Equal(t, 1, run.Result.ActiveAccounts)

	req := env.harvester.lastRequest()
	require.Equal(t, []string{"sama", "karpath"}, req.Roster)
	require.Equal(t, 6*time.Hour, req.Window)
	require.Equal(t, 5, req.MaxPerAccount)
	require.Equal(t, testRunID, req.RunID.String())
	require.Equal(t, 1, env.connector.calls)

	stored, err := report.NewStore(env.blobs, "reports").Load(context.Background(), "20240102_030405_abcdef")
	require.NoError(t, err)
	require.JSONEq(t, `{"headline":"ok"}`, string(stored.Summary))
	require.Equal(t, 1, stored.TotalPosts)

	msgs := env.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "runs", msgs[0].Topic)
	var notice pipeline.Notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &notice))
	require.Equal(t, testRunID, notice.RunID)
	require.Equal(t, "20240102_030405_abcdef", notice.ReportID)

	stages := env.emitter.stages()
	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunDone}, stages)
}

func TestWorker_Process_DefaultsApplyWithoutOverrides(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, env.worker.Process(context.Background(), pipeline.QueueItem{RunID: testRunID}))

	req := env.harvester.lastRequest()
	require.Equal(t, []string{"default_a", "default_b"}, req.Roster)
	require.Equal(t, 24*time.Hour, req.Window)
}

func TestWorker_Process_ProgressReportsHarvestBand(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.harvester.onRun = func(req harvest.Request) {
		req.Progress(1, 2)
		run, err := env.runs.GetRun(context.Background(), testRunID)
		require.NoError(t, err)
		require.Equal(t, pipeline.PhaseHarvesting, run.Phase)
		require.Equal(t, pipeline.HarvestProgress(1, 2), run.Progress)
		require.Equal(t, "Fetched 1/2 accounts", run.Message)
	}
	require.NoError(t, env.worker.Process(context.Background(), pipeline.QueueItem{RunID: testRunID}))
}

func TestWorker_Process_FailureModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*testEnv)
		wantErr string
	}{
		{
			name:    "connect fails",
			mutate:  func(e *testEnv) { e.connector.err = errors.New("no session") },
			wantErr: "connect: no session",
		},
		{
			name:    "harvest fails fast",
			mutate:  func(e *testEnv) { e.harvester.err = harvest.ErrNotConnected },
			wantErr: "harvest: source not connected",
		},
		{
			name:    "summarizer fails",
			mutate:  func(e *testEnv) { e.summarizer.err = errors.New("model overloaded") },
			wantErr: "summarize: model overloaded",
		},
		{
			name:    "publish fails",
			mutate:  func(e *testEnv) { e.worker.deps.Publisher = failingPublisher{} },
			wantErr: "publish notice: pub failure",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			tt.mutate(env)

			err := env.worker.Process(context.Background(), pipeline.QueueItem{RunID: testRunID})
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)

			run, getErr := env.runs.GetRun(context.Background(), testRunID)
			require.NoError(t, getErr)
			require.Equal(t, pipeline.RunStatusFailed, run.Status)
			require.Contains(t, run.ErrorText, tt.wantErr)

			stages := env.emitter.stages()
			require.Equal(t, progress.StageRunError, stages[len(stages)-1])
		})
	}
}

func TestWorker_Run_ConsumesQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t)
	env.queue.items = []pipeline.QueueItem{{RunID: testRunID}}

	go env.worker.Run(ctx)

	require.Eventually(t, func() bool {
		run, err := env.runs.GetRun(context.Background(), testRunID)
		return err == nil && run.Status == pipeline.RunStatusSucceeded
	}, time.Second, 10*time.Millisecond)
}

func TestEventRunIDHashesNonUUIDs(t *testing.T) {
	t.Parallel()

	require.Equal(t, eventRunID("manual"), eventRunID("manual"))
	require.NotEqual(t, eventRunID("manual"), eventRunID("other"))
	require.NotEqual(t, [16]byte{}, eventRunID(testRunID))
}

type testEnv struct {
	worker     *Worker
	queue      *fakeQueue
	runs       *memory.RunStore
	blobs      *memory.BlobStore
	publisher  *pubmemory.Publisher
	harvester  *fakeHarvester
	summarizer *fakeSummarizer
	connector  *fakeConnector
	emitter    *fakeEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:      &fakeQueue{},
		runs:       memory.NewRunStore(),
		blobs:      memory.NewBlobStore(),
		publisher:  pubmemory.New(),
		harvester:  &fakeHarvester{},
		summarizer: &fakeSummarizer{summary: `{"headline":"ok"}`},
		connector:  &fakeConnector{},
		emitter:    &fakeEmitter{},
	}
	require.NoError(t, env.runs.CreateRun(context.Background(), pipeline.Run{
		ID:     testRunID,
		Status: pipeline.RunStatusQueued,
	}))
	env.worker = New(Deps{
		Queue:      env.queue,
		Runs:       env.runs,
		Connector:  env.connector,
		Harvester:  env.harvester,
		Summarizer: env.summarizer,
		Reports:    report.NewStore(env.blobs, "reports"),
		ReportIDs:  fakeReportIDs{id: "20240102_030405_abcdef"},
		Publisher:  env.publisher,
		Emitter:    env.emitter,
		Clock:      fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}, Config{
		Roster:        []string{"default_a", "default_b"},
		MaxPerAccount: 5,
		Topic:         "runs",
	}, zap.NewNop())
	return env
}

type fakeQueue struct {
	mu    sync.Mutex
	items []pipeline.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item pipeline.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (pipeline.QueueItem, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return pipeline.QueueItem{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

type fakeHarvester struct {
	mu     sync.Mutex
	result harvest.Result
	err    error
	onRun  func(harvest.Request)
	reqs   []harvest.Request
}

func (h *fakeHarvester) Run(_ context.Context, req harvest.Request) (harvest.Result, error) {
	h.mu.Lock()
	h.reqs = append(h.reqs, req)
	onRun := h.onRun
	h.mu.Unlock()
	if onRun != nil {
		onRun(req)
	}
	if h.err != nil {
		return harvest.Result{}, h.err
	}
	return h.result, nil
}

func (h *fakeHarvester) lastRequest() harvest.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reqs[len(h.reqs)-1]
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (s *fakeSummarizer) Summarize(context.Context, map[string][]harvest.Item) (string, error) {
	return s.summary, s.err
}

type fakeConnector struct {
	calls int
	err   error
}

func (c *fakeConnector) Connect(context.Context) error {
	c.calls++
	return c.err
}

type fakeReportIDs struct{ id string }

func (f fakeReportIDs) NewReportID(time.Time) (string, error) { return f.id, nil }

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("pub failure")
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *fakeEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}
