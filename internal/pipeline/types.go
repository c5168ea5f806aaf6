// Package pipeline runs a full harvest: connect, fetch the roster,
// summarize, persist the report, and announce completion.
package pipeline

import (
	"errors"
	"time"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

var (
	// ErrRunNotFound is returned by RunStore implementations for unknown IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrQueueClosed is returned by Dequeue once the queue is shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Phase is the pipeline step a running run is in.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseQueued      Phase = "queued"
	PhaseConnecting  Phase = "connecting"
	PhaseHarvesting  Phase = "harvesting"
	PhaseSummarizing Phase = "summarizing"
	PhaseSaving      Phase = "saving"
	PhasePublishing  Phase = "publishing"
	PhaseComplete    Phase = "complete"
)

// Progress percentages reported at phase boundaries.
const (
	ProgressConnecting   = 5
	ProgressHarvestStart = 15
	ProgressHarvestSpan  = 47
	ProgressSummarizing  = 65
	ProgressSaving       = 85
	ProgressPublishing   = 95
	ProgressComplete     = 100
)

// HarvestProgress maps completed accounts onto the harvesting band.
func HarvestProgress(done, total int) int {
	if total <= 0 {
		return ProgressHarvestStart
	}
	if done > total {
		done = total
	}
	return ProgressHarvestStart + done*ProgressHarvestSpan/total
}

// RunParameters captures per-run overrides requested by the client.
type RunParameters struct {
	Roster        []string          `json:"roster,omitempty"`
	WindowHours   int               `json:"window_hours,omitempty"`
	MaxPerAccount int               `json:"max_per_account,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Run is the metadata persisted for each submitted harvest.
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Phase      Phase         `json:"phase"`
	Progress   int           `json:"progress"`
	Message    string        `json:"message,omitempty"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters RunParameters `json:"parameters"`
	Result     *RunResult    `json:"result,omitempty"`
}

// RunResult is recorded once a run has produced its report.
type RunResult struct {
	ReportID       string                     `json:"report_id"`
	ReportURI      string                     `json:"report_uri"`
	TotalItems     int                        `json:"total_items"`
	ActiveAccounts int                        `json:"active_accounts"`
	Outcomes       map[string]harvest.Outcome `json:"outcomes"`
	Stats          harvest.Summary            `json:"stats"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Params    RunParameters
	Attempt   int
	Submitted int64
}

// Notice is published when a run finishes successfully.
type Notice struct {
	RunID          string          `json:"run_id"`
	ReportID       string          `json:"report_id"`
	ReportURI      string          `json:"report_uri"`
	TotalItems     int             `json:"total_items"`
	ActiveAccounts int             `json:"active_accounts"`
	FinishedAt     time.Time       `json:"finished_at"`
	Stats          harvest.Summary `json:"stats"`
}

// Attributes are attached to the published message for subscription
// filtering.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"run_id":    n.RunID,
		"report_id": n.ReportID,
		"event":     "run.completed",
	}
}
