package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
)

// RunStore keeps run records in memory for development and the single-node
// deployment.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]pipeline.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]pipeline.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run pipeline.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// UpdateRunStatus transitions a run and stamps start/finish times.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status pipeline.RunStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	run.Status = status
	run.ErrorText = errText
	now := s.now()
	if status == pipeline.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// UpdateProgress records the current phase and percentage.
func (s *RunStore) UpdateProgress(
	_ context.Context,
	runID string,
	phase pipeline.Phase,
	progress int,
	message string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	run.Phase = phase
	run.Progress = progress
	run.Message = message
	s.runs[runID] = run
	return nil
}

// RecordResult attaches the run's report and outcomes.
func (s *RunStore) RecordResult(_ context.Context, runID string, result pipeline.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	res := cloneResult(result)
	run.Result = &res
	s.runs[runID] = run
	return nil
}

// GetRun fetches a copy of a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return pipeline.Run{}, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	return cloneRun(run), nil
}

func cloneRun(run pipeline.Run) pipeline.Run {
	out := run
	out.Parameters.Roster = append([]string(nil), run.Parameters.Roster...)
	if run.Result != nil {
		res := cloneResult(*run.Result)
		out.Result = &res
	}
	return out
}

func cloneResult(result pipeline.RunResult) pipeline.RunResult {
	out := result
	if result.Outcomes != nil {
		out.Outcomes = make(map[string]harvest.Outcome, len(result.Outcomes))
		for k, v := range result.Outcomes {
			out.Outcomes[k] = v
		}
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
