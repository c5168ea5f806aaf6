// Package server builds the harvester's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/api"
	"github.com/JakeFAU/tech-intel-harvester/internal/clock/system"
	"github.com/JakeFAU/tech-intel-harvester/internal/config"
	"github.com/JakeFAU/tech-intel-harvester/internal/dispatcher"
	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/id/uuid"
	"github.com/JakeFAU/tech-intel-harvester/internal/pipeline"
	"github.com/JakeFAU/tech-intel-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/tech-intel-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/tech-intel-harvester/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/tech-intel-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tech-intel-harvester/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/tech-intel-harvester/internal/queue/memory"
	"github.com/JakeFAU/tech-intel-harvester/internal/report"
	"github.com/JakeFAU/tech-intel-harvester/internal/roster"
	gcsstorage "github.com/JakeFAU/tech-intel-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tech-intel-harvester/internal/storage/local"
	memoryStorage "github.com/JakeFAU/tech-intel-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/tech-intel-harvester/internal/storage/postgres"
	redisstore "github.com/JakeFAU/tech-intel-harvester/internal/storage/redis"
	"github.com/JakeFAU/tech-intel-harvester/internal/summarize"
	"github.com/JakeFAU/tech-intel-harvester/internal/worker"
	"github.com/JakeFAU/tech-intel-harvester/internal/xclient"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	workers      []*worker.Worker
	runs         pipeline.RunStore
	ids          *uuid.Generator
	clock        *system.Clock
	queue        *queueMemory.Queue
	progressHub  *progress.Hub
	cache        *harvest.IdentityCache
	source       *xclient.Client
	reports      *report.Store
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	storage      *storage.Client
	closers      []func()
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	transport  xclient.Transport
}

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// WithTransport replaces the browser-fingerprinted HTTP transport.
func WithTransport(t xclient.Transport) Option {
	return func(o *buildOptions) {
		o.transport = t
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		runs:   memoryStorage.NewRunStore(),
		ids:    uuid.New(),
		clock:  system.New(),
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("summarizer", cfg.Summarizer.Provider),
		zap.Int("workers", cfg.Workers),
	)

	defaultRoster, err := roster.Load(cfg.Harvest.RosterFile)
	if err != nil {
		return nil, fmt.Errorf("roster init failed: %w", err)
	}
	logger.Info("roster loaded", zap.Int("handles", len(defaultRoster)))

	if err := setupCache(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.reports = report.NewStore(blobs, cfg.Storage.Prefix)

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, bo.registerer)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := setupSource(app, bo.transport); err != nil {
		app.Close(ctx)
		return nil, err
	}

	harvester := harvest.New(app.source, app.cache, harvest.Options{
		Concurrency:    cfg.Harvest.Concurrency,
		RequestTimeout: cfg.Harvest.RequestTimeout,
		MaxAttempts:    cfg.Harvest.MaxAttempts,
		Backoff:        harvest.Backoff{Base: cfg.Harvest.BaseBackoff, Max: cfg.Harvest.MaxBackoff},
		RequestJitter:  cfg.Harvest.RequestJitter,
	},
		harvest.WithLogger(logger.Named("harvest")),
		harvest.WithClock(app.clock),
		harvest.WithEmitter(emitter),
	)

	app.queue = queueMemory.NewQueue(cfg.QueueDepth)
	deps := worker.Deps{
		Queue:      app.queue,
		Runs:       app.runs,
		Connector:  app.source,
		Harvester:  harvester,
		Summarizer: setupSummarizer(app),
		Reports:    app.reports,
		ReportIDs:  app.ids,
		Publisher:  publisher,
		Emitter:    emitter,
		Clock:      app.clock,
	}
	workerCfg := worker.Config{
		Roster:        defaultRoster,
		Window:        cfg.Harvest.Window(),
		MaxPerAccount: cfg.Harvest.MaxPerAccount,
		Topic:         cfg.PubSub.TopicName,
	}
	for i := 0; i < cfg.Workers; i++ {
		app.workers = append(app.workers, worker.New(deps, workerCfg,
			logger.Named("worker").With(zap.Int("index", i))))
	}
	app.dispatch = dispatcher.New(app.queue, app.workers)

	app.apiServer = api.NewServer(
		app.runs,
		app.reports,
		app.dispatch,
		app.ids,
		app.clock,
		*cfg,
		logger.Named("api"),
		api.WithReadyCheck(app.source.Connect),
	)
	return app, nil
}

// Run serves the API and dispatcher until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Workers()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	a.Close(shutdownCtx)
	return nil
}

// RunOnce executes a single run in the foreground and returns its record.
func (a *App) RunOnce(ctx context.Context, params pipeline.RunParameters) (pipeline.Run, error) {
	if len(a.workers) == 0 {
		return pipeline.Run{}, errors.New("no workers configured")
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	now := a.clock.Now()
	if err := a.runs.CreateRun(ctx, pipeline.Run{
		ID:         runID,
		Status:     pipeline.RunStatusQueued,
		Phase:      pipeline.PhaseQueued,
		Submitted:  now,
		Parameters: params,
	}); err != nil {
		return pipeline.Run{}, fmt.Errorf("create run: %w", err)
	}
	procErr := a.workers[0].Process(ctx, pipeline.QueueItem{
		RunID:     runID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	})
	run, err := a.runs.GetRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("load run: %w", err)
	}
	if procErr != nil {
		return run, procErr
	}
	return run, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Close releases every resource Build acquired. It is safe to call more
// than once.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
		a.pubsubTopic = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func setupCache(ctx context.Context, app *App) error {
	cfg := app.cfg.Cache
	var store harvest.CacheStore
	switch cfg.Backend {
	case "redis":
		rs, err := redisstore.NewIdentityStore(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return fmt.Errorf("redis identity cache init failed: %w", err)
		}
		app.closers = append(app.closers, func() {
			if err := rs.Close(); err != nil {
				app.logger.Warn("redis close failed", zap.Error(err))
			}
		})
		store = rs
		app.logger.Info("using redis identity cache", zap.String("addr", cfg.Redis.Addr))
	case "postgres":
		ps, err := pgstore.NewIdentityStore(ctx, pgstore.IdentityStoreConfig{
			DSN:   cfg.Postgres.DSN,
			Table: cfg.Postgres.Table,
		})
		if err != nil {
			return fmt.Errorf("postgres identity cache init failed: %w", err)
		}
		app.closers = append(app.closers, ps.Close)
		store = ps
		app.logger.Info("using postgres identity cache", zap.String("table", cfg.Postgres.Table))
	case "memory":
		store = memoryStorage.NewIdentityStore()
		app.logger.Info("using in-memory identity cache")
	default:
		fs, err := localstorage.NewIdentityStore(cfg.Path)
		if err != nil {
			return fmt.Errorf("file identity cache init failed: %w", err)
		}
		store = fs
		app.logger.Info("using file identity cache", zap.String("path", cfg.Path))
	}
	app.cache = harvest.NewIdentityCache(store, app.logger.Named("identity_cache"))
	app.cache.Load(ctx)
	return nil
}

func setupStorage(ctx context.Context, app *App) (report.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS report storage", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local report storage", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory report storage")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (pipeline.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubTopic = client.Topic(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubTopic), nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupSource(app *App, transport xclient.Transport) error {
	if transport == nil {
		st, err := xclient.NewStealthTransport(app.cfg.X.Proxy)
		if err != nil {
			return fmt.Errorf("x transport init failed: %w", err)
		}
		transport = st
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.X.RequestsPerSecond,
		DefaultBurst: app.cfg.X.Burst,
	})
	app.source = xclient.New(xclient.Config{
		AuthToken:   app.cfg.X.AuthToken,
		CT0:         app.cfg.X.CT0,
		SessionFile: app.cfg.X.SessionFile,
	}, transport,
		xclient.WithLimiter(limiter),
		xclient.WithLogger(app.logger.Named("xclient")),
	)
	app.logger.Info("x client configured",
		zap.Float64("requests_per_second", app.cfg.X.RequestsPerSecond),
		zap.Int("burst", app.cfg.X.Burst),
		zap.Bool("proxy", app.cfg.X.Proxy != ""),
	)
	return nil
}

func setupSummarizer(app *App) pipeline.Summarizer {
	if app.cfg.Summarizer.Provider == "anthropic" {
		app.logger.Info("using anthropic summarizer", zap.String("model", app.cfg.Summarizer.Model))
		return summarize.NewAnthropic(summarize.AnthropicConfig{
			APIKey:    app.cfg.Summarizer.APIKey,
			Model:     app.cfg.Summarizer.Model,
			MaxTokens: app.cfg.Summarizer.MaxTokens,
		}, app.logger.Named("summarizer"))
	}
	app.logger.Info("using digest summarizer")
	return summarize.Digest{}
}
