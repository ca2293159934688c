package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/willow-notes/willow/internal/config"
	"github.com/willow-notes/willow/internal/pipeline"
	"github.com/willow-notes/willow/internal/platform/enrich"
	"github.com/willow-notes/willow/internal/platform/sqlite"
	"github.com/willow-notes/willow/internal/store"
	"github.com/willow-notes/willow/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	taskStore     store.TaskStore
	digestStore   store.DigestStore
	itemTaskStore store.ItemTaskStore

	// Queue runtime and the pipeline built on it
	runtime  *task.Runtime
	pipeline *pipeline.Pipeline
}

// newApplication creates a new application instance with all dependencies
// initialized. The queue runtime is started lazily by the first EnsureReady
// call; we make that call here so the worker is polling before the HTTP
// server accepts traffic.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = sqlite.NewTaskStore(db)
	app.digestStore = sqlite.NewDigestStore(db)
	app.itemTaskStore = sqlite.NewItemTaskStore(db)

	app.runtime = task.NewRuntime(
		app.taskStore,
		app.itemTaskStore,
		task.WorkerConfig{
			PollInterval:          time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
			BatchSize:             cfg.Worker.BatchSize,
			MaxAttempts:           cfg.Worker.MaxAttempts,
			StaleTimeout:          time.Duration(cfg.Worker.StaleTimeoutSeconds) * time.Second,
			StaleRecoveryInterval: time.Duration(cfg.Worker.StaleRecoveryIntervalSeconds) * time.Second,
		},
		logger,
	)

	// One local enricher serves all four collaborator roles; deployments
	// with remote crawler/AI services swap these per interface.
	local := enrich.NewLocal()
	app.pipeline = pipeline.New(
		app.runtime,
		app.digestStore,
		pipeline.Enrichers{
			Crawler:    local,
			Summarizer: local,
			Tagger:     local,
			Slugger:    local,
		},
		logger.With("component", "pipeline"),
	)
	app.pipeline.RegisterHandlers()

	if err := app.runtime.EnsureReady(app.pipeline.TaskTypes()...); err != nil {
		return nil, fmt.Errorf("failed to start queue runtime: %w", err)
	}

	logger.Info("application initialized")
	return app, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources. The worker
// is drained with a bounded wait so in-flight tasks get a chance to
// finish; anything still running after the timeout is reclaimed later by
// stale-task recovery.
func (app *application) cleanup() {
	if app.runtime != nil {
		timeout := time.Duration(app.config.Worker.ShutdownTimeoutSeconds) * time.Second
		app.runtime.Shutdown(timeout)
	}

	app.logger.Info("application shutdown completed")
}
