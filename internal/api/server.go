package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/config"
	"github.com/JakeFAU/tech-intel-harvester/internal/dispatcher"
	"github.com/JakeFAU/tech-intel-harvester/internal/metrics"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
	"github.com/JakeFAU/tech-intel-harvester/internal/report"
	"github.com/JakeFAU/tech-intel-harvester/internal/roster"
)

const (
	maxWindowHours   = 24 * 7
	maxPerAccountCap = 100
	maxRosterSize    = 500
	maxBodyBytes     = 1 << 20
	maxReportList    = 100
)

// ReportStore reads and prunes stored reports.
type ReportStore interface {
	Load(ctx context.Context, id string) (report.Report, error)
	Latest(ctx context.Context) (report.Report, error)
	List(ctx context.Context, limit int) ([]report.Entry, error)
	Delete(ctx context.Context, id string) error
}

// ReadyFunc reports whether downstream dependencies can serve runs.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	runs       pipeline.RunStore
	reports    ReportStore
	dispatcher *dispatcher.Dispatcher
	idGen      pipeline.IDGenerator
	clock      pipeline.Clock
	ready      ReadyFunc
	logger     *zap.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithReadyCheck installs the probe used by /readyz.
func WithReadyCheck(fn ReadyFunc) Option {
	return func(s *Server) {
		s.ready = fn
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runs pipeline.RunStore,
	reports ReportStore,
	dispatcher *dispatcher.Dispatcher,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:       runs,
		reports:    reports,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/runs", s.submitRun)
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/status", s.getRunStatus)
			r.Get("/result", s.getRunResult)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.listReports)
			r.Get("/latest", s.getLatestReport)
			r.Get("/{report_id}", s.getReport)
			r.Delete("/{report_id}", s.deleteReport)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	Roster        []string          `json:"roster"`
	WindowHours   int               `json:"window_hours"`
	MaxPerAccount int               `json:"max_per_account"`
	Tags          map[string]string `json:"tags"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := toRunParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueRun(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		case errors.Is(err, pipeline.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("run submission failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

type runResultResponse struct {
	RunID  string             `json:"run_id"`
	Status pipeline.RunStatus `json:"status"`
	pipeline.RunResult
	Summary json.RawMessage `json:"summary,omitempty"`
}

func (s *Server) getRunResult(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Status == pipeline.RunStatusFailed {
		writeJSON(w, http.StatusConflict, map[string]string{
			"run_id": run.ID,
			"status": string(run.Status),
			"error":  run.ErrorText,
		})
		return
	}
	if run.Result == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id":   run.ID,
			"status":   run.Status,
			"phase":    run.Phase,
			"progress": run.Progress,
		})
		return
	}
	resp := runResultResponse{RunID: run.ID, Status: run.Status, RunResult: *run.Result}
	if s.reports != nil {
		stored, err := s.reports.Load(r.Context(), run.Result.ReportID)
		if err != nil {
			s.logger.Warn("report load failed",
				zap.String("run_id", run.ID),
				zap.String("report_id", run.Result.ReportID),
				zap.Error(err),
			)
		} else {
			resp.Summary = stored.Summary
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	stored, err := s.reports.Load(r.Context(), chi.URLParam(r, "report_id"))
	s.writeReport(w, stored, err)
}

func (s *Server) getLatestReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "no reports yet")
		return
	}
	stored, err := s.reports.Latest(r.Context())
	if errors.Is(err, report.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no reports yet")
		return
	}
	s.writeReport(w, stored, err)
}

func (s *Server) writeReport(w http.ResponseWriter, stored report.Report, err error) {
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.logger.Error("report load failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit := report.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReportList {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxReportList))
			return
		}
		limit = n
	}
	entries := []report.Entry{}
	if s.reports != nil {
		listed, err := s.reports.List(r.Context(), limit)
		if err != nil {
			s.logger.Error("report list failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list reports")
			return
		}
		entries = append(entries, listed...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": entries})
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "report_id")
	if !report.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err := s.reports.Delete(r.Context(), id); err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.logger.Error("report delete failed", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete report")
		return
	}
	s.logger.Info("report deleted", zap.String("report_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "report_id": id})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (pipeline.Run, bool) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load run")
		}
		return pipeline.Run{}, false
	}
	return run, true
}

func (s *Server) enqueueRun(ctx context.Context, params pipeline.RunParameters) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := pipeline.Run{
		ID:         runID,
		Status:     pipeline.RunStatusQueued,
		Phase:      pipeline.PhaseQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := pipeline.QueueItem{
		RunID:     runID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if statusErr := s.runs.UpdateRunStatus(context.WithoutCancel(ctx), runID, pipeline.RunStatusFailed,
			"enqueue failed"); statusErr != nil {
			s.logger.Warn("mark unqueued run failed", zap.String("run_id", runID), zap.Error(statusErr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run queued",
		zap.String("run_id", runID),
		zap.Int("roster", len(params.Roster)),
		zap.Int("window_hours", params.WindowHours),
	)
	return runID, nil
}

func toRunParameters(req runRequest) (pipeline.RunParameters, error) {
	if req.WindowHours < 0 || req.WindowHours > maxWindowHours {
		return pipeline.RunParameters{}, fmt.Errorf("window_hours must be between 1 and %d", maxWindowHours)
	}
	if req.MaxPerAccount < 0 || req.MaxPerAccount > maxPerAccountCap {
		return pipeline.RunParameters{}, fmt.Errorf("max_per_account must be between 1 and %d", maxPerAccountCap)
	}
	handles := roster.Normalize(req.Roster)
	if len(handles) > maxRosterSize {
		return pipeline.RunParameters{}, fmt.Errorf("roster exceeds %d handles", maxRosterSize)
	}
	if len(req.Roster) > 0 && len(handles) == 0 {
		return pipeline.RunParameters{}, errors.New("roster contains no usable handles")
	}
	return pipeline.RunParameters{
		Roster:        handles,
		WindowHours:   req.WindowHours,
		MaxPerAccount: req.MaxPerAccount,
		Tags:          req.Tags,
	}, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
