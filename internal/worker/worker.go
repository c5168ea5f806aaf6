// Package worker executes queued harvest runs end to end.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/metrics"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
	"github.com/JakeFAU/tech-intel-harvester/internal/progress"
	"github.com/JakeFAU/tech-intel-harvester/internal/report"
	"github.com/JakeFAU/tech-intel-harvester/internal/roster"
)

// Config carries run defaults applied when a request leaves them unset.
type Config struct {
	Roster        []string
	Window        time.Duration
	MaxPerAccount int
	// Topic receives run-completed notices. Empty disables publishing.
	Topic string
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Queue      pipeline.Queue
	Runs       pipeline.RunStore
	Connector  pipeline.Connector
	Harvester  pipeline.Harvester
	Summarizer pipeline.Summarizer
	Reports    pipeline.ReportStore
	ReportIDs  pipeline.ReportIDGenerator
	Publisher  pipeline.Publisher
	Emitter    progress.Emitter
	Clock      pipeline.Clock
}

// Worker consumes queue items and executes the harvest pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MaxPerAccount <= 0 {
		cfg.MaxPerAccount = 20
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pipeline.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		_ = w.Process(ctx, item)
	}
}

// Process executes one run and records its terminal status. The returned
// error is the pipeline failure, already persisted on the run.
func (w *Worker) Process(ctx context.Context, item pipeline.QueueItem) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runUUID := eventRunID(item.RunID)
	started := w.deps.Clock.Now()
	logger := w.logger.With(zap.String("run_id", item.RunID))

	if err := w.deps.Runs.UpdateRunStatus(ctx, item.RunID, pipeline.RunStatusRunning, ""); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return fmt.Errorf("mark run running: %w", err)
	}
	w.emit(progress.Event{RunID: runUUID, Stage: progress.StageRunStart})
	logger.Info("run started")

	result, err := w.execute(ctx, item, runUUID, logger)
	elapsed := w.deps.Clock.Now().Sub(started)
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if statusErr := w.deps.Runs.UpdateRunStatus(persistCtx, item.RunID, pipeline.RunStatusFailed, err.Error()); statusErr != nil {
			logger.Error("final run status update failed", zap.Error(statusErr))
		}
		w.emit(progress.Event{RunID: runUUID, Stage: progress.StageRunError, Dur: elapsed, Note: err.Error()})
		metrics.ObserveRun(string(pipeline.RunStatusFailed))
		logger.Error("run failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}

	w.setPhase(persistCtx, item.RunID, pipeline.PhaseComplete, pipeline.ProgressComplete,
		fmt.Sprintf("Report ready (generated in %.0fs)", elapsed.Seconds()))
	if statusErr := w.deps.Runs.UpdateRunStatus(persistCtx, item.RunID, pipeline.RunStatusSucceeded, ""); statusErr != nil {
		logger.Error("final run status update failed", zap.Error(statusErr))
	}
	w.emit(progress.Event{
		RunID: runUUID,
		Stage: progress.StageRunDone,
		Items: int64(result.TotalItems),
		Dur:   elapsed,
	})
	metrics.ObserveRun(string(pipeline.RunStatusSucceeded))
	logger.Info("run succeeded",
		zap.String("report_id", result.ReportID),
		zap.Int("items", result.TotalItems),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (w *Worker) execute(
	ctx context.Context,
	item pipeline.QueueItem,
	runUUID [16]byte,
	logger *zap.Logger,
) (pipeline.RunResult, error) {
	w.setPhase(ctx, item.RunID, pipeline.PhaseConnecting, pipeline.ProgressConnecting, "Connecting to X")
	if w.deps.Connector != nil {
		if err := w.deps.Connector.Connect(ctx); err != nil {
			return pipeline.RunResult{}, fmt.Errorf("connect: %w", err)
		}
	}

	handles, window, perAccount := w.resolveParams(item.Params)
	w.setPhase(ctx, item.RunID, pipeline.PhaseHarvesting, pipeline.ProgressHarvestStart,
		fmt.Sprintf("Fetching posts from %d accounts", len(handles)))
	res, err := w.deps.Harvester.Run(ctx, harvest.Request{
		RunID:         uuid.UUID(runUUID),
		Roster:        handles,
		Window:        window,
		MaxPerAccount: perAccount,
		Progress: func(done, total int) {
			w.setPhase(ctx, item.RunID, pipeline.PhaseHarvesting, pipeline.HarvestProgress(done, total),
				fmt.Sprintf("Fetched %d/%d accounts", done, total))
		},
	})
	if err != nil {
		return pipeline.RunResult{}, fmt.Errorf("harvest: %w", err)
	}
	total, active := res.TotalItems(), res.ActiveAccounts()
	logger.Info("harvest finished", zap.Int("items", total), zap.Int("active_accounts", active))

	w.setPhase(ctx, item.RunID, pipeline.PhaseSummarizing, pipeline.ProgressSummarizing,
		fmt.Sprintf("Collected %d posts from %d accounts, summarizing", total, active))
	summary, err := w.deps.Summarizer.Summarize(ctx, res.Items)
	if err != nil {
		return pipeline.RunResult{}, fmt.Errorf("summarize: %w", err)
	}

	w.setPhase(ctx, item.RunID, pipeline.PhaseSaving, pipeline.ProgressSaving, "Saving report")
	generated := w.deps.Clock.Now()
	reportID, err := w.deps.ReportIDs.NewReportID(generated)
	if err != nil {
		return pipeline.RunResult{}, fmt.Errorf("report id: %w", err)
	}
	uri, err := w.deps.Reports.Save(ctx, report.Build(reportID, generated, res, summary))
	if err != nil {
		return pipeline.RunResult{}, fmt.Errorf("save report: %w", err)
	}

	result := pipeline.RunResult{
		ReportID:       reportID,
		ReportURI:      uri,
		TotalItems:     total,
		ActiveAccounts: active,
		Outcomes:       res.Outcomes,
		Stats:          res.Summary,
	}
	if err := w.deps.Runs.RecordResult(ctx, item.RunID, result); err != nil {
		return pipeline.RunResult{}, fmt.Errorf("record result: %w", err)
	}

	if err := w.publish(ctx, item.RunID, result); err != nil {
		return pipeline.RunResult{}, err
	}
	return result, nil
}

func (w *Worker) resolveParams(params pipeline.RunParameters) ([]string, time.Duration, int) {
	handles := roster.Normalize(params.Roster)
	if len(handles) == 0 {
		handles = w.cfg.Roster
	}
	window := w.cfg.Window
	if params.WindowHours > 0 {
		window = time.Duration(params.WindowHours) * time.Hour
	}
	perAccount := w.cfg.MaxPerAccount
	if params.MaxPerAccount > 0 {
		perAccount = params.MaxPerAccount
	}
	return handles, window, perAccount
}

func (w *Worker) publish(ctx context.Context, runID string, result pipeline.RunResult) error {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return nil
	}
	w.setPhase(ctx, runID, pipeline.PhasePublishing, pipeline.ProgressPublishing, "Publishing notice")
	notice := pipeline.Notice{
		RunID:          runID,
		ReportID:       result.ReportID,
		ReportURI:      result.ReportURI,
		TotalItems:     result.TotalItems,
		ActiveAccounts: result.ActiveAccounts,
		FinishedAt:     w.deps.Clock.Now(),
		Stats:          result.Stats,
	}
	msgID, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, notice)
	if err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	w.logger.Info("run notice published",
		zap.String("run_id", runID),
		zap.String("topic", w.cfg.Topic),
		zap.String("message_id", msgID),
	)
	return nil
}

func (w *Worker) setPhase(ctx context.Context, runID string, phase pipeline.Phase, pct int, message string) {
	if err := w.deps.Runs.UpdateProgress(ctx, runID, phase, pct, message); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("progress update failed",
			zap.String("run_id", runID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Emitter == nil {
		return
	}
	evt.TS = w.deps.Clock.Now().UTC()
	w.deps.Emitter.Emit(evt)
}

// eventRunID maps a run ID onto the 16-byte event form. Non-UUID IDs are
// hashed so events stay correlated.
func eventRunID(runID string) [16]byte {
	id, err := uuid.Parse(runID)
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(runID))
	}
	return progress.UUIDToBytes(id)
}
