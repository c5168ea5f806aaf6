package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/report"
)

// RunStore persists run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error
	UpdateProgress(ctx context.Context, runID string, phase Phase, progress int, message string) error
	RecordResult(ctx context.Context, runID string, result RunResult) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// ReportStore persists a finished report and returns its URI.
type ReportStore interface {
	Save(ctx context.Context, r report.Report) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Summarizer condenses harvested items into a report body.
type Summarizer interface {
	Summarize(ctx context.Context, items map[string][]harvest.Item) (string, error)
}

// Connector authenticates the upstream source before a harvest.
type Connector interface {
	Connect(ctx context.Context) error
}

// Harvester fetches the roster.
type Harvester interface {
	Run(ctx context.Context, req harvest.Request) (harvest.Result, error)
}

// Queue provides enqueue/dequeue semantics for runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ReportIDGenerator names reports after their generation time.
type ReportIDGenerator interface {
	NewReportID(at time.Time) (string, error)
}
