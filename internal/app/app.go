// Package app wires repositories, the step executor, the engine, the
// scheduler and the HTTP surface into one application.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"duckflow/internal/api"
	"duckflow/internal/config"
	"duckflow/internal/db"
	"duckflow/internal/db/repository"
	"duckflow/internal/domain"
	"duckflow/internal/limiter"
	"duckflow/internal/middleware"
	"duckflow/internal/recurrence"
	"duckflow/internal/service/pipeline"
	"duckflow/internal/stepexec"
	"duckflow/internal/storage"
)

// Deps holds the external dependencies that main() must provide: config,
// database handles and the logger.
type Deps struct {
	Cfg    *config.Config
	DuckDB *sql.DB
	// DB holds persisted state. When nil everything is kept in memory.
	DB *db.Pools
	// Store overrides the S3 object store built from Cfg.
	Store  *storage.S3Store
	Logger *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Pipelines  domain.PipelineRepository
	Executions domain.ExecutionRepository
	Executor   *stepexec.DuckDBExecutor
	Engine     *pipeline.Engine
	Scheduler  *pipeline.Scheduler
	Service    *pipeline.Service
	Store      *storage.S3Store // nil when S3 is not configured
	Auth       *middleware.HS256Validator

	db     *db.Pools
	cfg    *config.Config
	logger *slog.Logger

	stopTriggers context.CancelFunc
	triggersDone chan struct{}
}

// New wires every component from deps. Nothing is started.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// === Persistence ===
	var (
		pipelines  domain.PipelineRepository
		executions domain.ExecutionRepository
	)
	if deps.DB != nil {
		pipelines = repository.NewPipelineRepo(deps.DB.Write, deps.DB.Read)
		executions = repository.NewExecutionRepo(deps.DB.Write, deps.DB.Read)
	} else {
		mem := repository.NewMemoryStore()
		pipelines, executions = mem.Pipelines(), mem.Executions()
		logger.Warn("using in-memory persistence; state is lost on exit")
	}

	// === Object storage ===
	store := deps.Store
	if store == nil && cfg.HasS3Config() {
		s, err := storage.NewS3Store(cfg)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		store = s
	}
	if store != nil {
		if err := stepexec.ConfigureS3(ctx, deps.DuckDB, cfg); err != nil {
			logger.Warn("duckdb s3 setup failed; s3:// reads will not work", "error", err)
		}
	}

	// === Step execution ===
	for _, dir := range []string{cfg.UploadDirectory, cfg.OutputDirectory} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	var objectStore domain.ObjectStore
	if store != nil {
		objectStore = store
	}
	executor := stepexec.New(deps.DuckDB, objectStore, logger)

	engine := pipeline.NewEngine(executor, executions, limiter.New(cfg.Engine.MaxConcurrentExecutions),
		pipeline.EngineOptions{
			Timeout:    cfg.Engine.ExecutionTimeout,
			RetryDelay: cfg.Engine.RetryDelay,
			UploadDir:  cfg.UploadDirectory,
			OutputDir:  cfg.OutputDirectory,
		}, logger)

	// === Scheduling ===
	cronEval, err := recurrence.NewCronEvaluator(cfg.Engine.CronMode, logger)
	if err != nil {
		return nil, err
	}
	scheduler := pipeline.NewScheduler(pipelines, engine, recurrence.NewCalculator(cronEval, logger),
		pipeline.SchedulerOptions{CheckInterval: cfg.Engine.SchedulerCheckInterval}, logger)

	svc := pipeline.NewService(pipelines, executions, engine, logger)
	svc.SetJobSync(scheduler)

	// === Auth ===
	var auth *middleware.HS256Validator
	if cfg.AuthEnabled() {
		auth, err = middleware.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		Pipelines:  pipelines,
		Executions: executions,
		Executor:   executor,
		Engine:     engine,
		Scheduler:  scheduler,
		Service:    svc,
		Store:      store,
		Auth:       auth,
		db:         deps.DB,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Router builds the HTTP handler. ctx bounds background middleware state.
func (a *App) Router(ctx context.Context) http.Handler {
	var presign api.Presigner
	if a.Store != nil {
		presign = a.Store
	}
	h := api.NewHandler(a.Service, a.Scheduler, presign, a.logger)
	return api.NewRouter(ctx, h, api.RouterConfig{
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			Burst:             a.cfg.RateLimitBurst,
		},
		Auth:  a.Auth,
		Ready: a.ready,
	}, a.logger)
}

// ready reports whether the metadata store answers on the read pool.
func (a *App) ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Read.PingContext(ctx); err != nil {
		return err
	}
	_, err := db.SchemaVersion(a.db.Read)
	return err
}

// Start loads scheduled pipelines, starts the scheduler loop and consumes
// its trigger outcomes.
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.stopTriggers, a.triggersDone = cancel, done
	go a.watchTriggers(watchCtx, done)
	return nil
}

func (a *App) watchTriggers(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-a.Scheduler.Triggers():
			if r.Err != nil {
				a.logger.Warn("scheduled run not started", "pipeline_id", r.PipelineID, "at", r.At, "error", r.Err)
				continue
			}
			a.logger.Info("scheduled run started", "pipeline_id", r.PipelineID, "execution_id", r.ExecutionID, "at", r.At)
		}
	}
}

// Shutdown stops the scheduler, then cancels running executions and waits
// for them to record their final state.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	if a.stopTriggers != nil {
		a.stopTriggers()
		<-a.triggersDone
		a.stopTriggers, a.triggersDone = nil, nil
	}
	if err := a.Engine.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown engine: %w", err)
	}
	return nil
}
