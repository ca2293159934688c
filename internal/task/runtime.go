package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

// Runtime is the producer-facing facade over the queue: it owns the
// registry, executor, and worker, and is the one object the rest of the
// application holds. It lives at the composition root rather than as a
// package-level global; one process normally owns exactly one Runtime.
type Runtime struct {
	tasks    store.TaskStore
	registry *Registry
	worker   *Worker
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewRuntime wires up the queue core over the given stores. projections
// may be nil to skip the per-item status mirror.
func NewRuntime(
	tasks store.TaskStore,
	projections store.ItemTaskStore,
	config WorkerConfig,
	log *slog.Logger,
) *Runtime {
	registry := NewRegistry(log.With("component", "task_registry"))
	scheduler := NewScheduler(tasks)
	executor := NewExecutor(tasks, registry, projections, log.With("component", "task_executor"))
	worker := NewWorker(scheduler, executor, config, log.With("component", "task_worker"))

	return &Runtime{
		tasks:    tasks,
		registry: registry,
		worker:   worker,
		logger:   log,
	}
}

// Enqueue persists a new to-do task and returns its ID. input may be any
// JSON-serializable value (a json.RawMessage passes through untouched);
// runAfter defers eligibility when non-nil.
func (r *Runtime) Enqueue(ctx context.Context, taskType string, input any, runAfter *time.Time) (uuid.UUID, error) {
	var payload json.RawMessage
	switch v := input.(type) {
	case nil:
	case json.RawMessage:
		payload = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to serialize task input: %w", err)
		}
		payload = data
	}

	t, err := domain.NewTask(taskType, payload, runAfter)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := r.tasks.Create(ctx, t); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	r.logger.Debug("task enqueued",
		"task_id", t.ID,
		"task_type", taskType,
		"run_after", runAfter)

	return t.ID, nil
}

// DefineHandler registers (or idempotently re-registers) the handler for a
// task type.
func (r *Runtime) DefineHandler(taskType string, handler Handler) {
	r.registry.Register(taskType, handler)
}

// EnsureReady guarantees a consumer exists for the given task types: it
// verifies their handlers are attached and lazily starts the worker if it
// is not already running. Any code path that enqueues work can call this
// without a separate bootstrap step; repeated calls are cheap no-ops.
func (r *Runtime) EnsureReady(taskTypes ...string) error {
	for _, taskType := range taskTypes {
		if _, ok := r.registry.Get(taskType); !ok {
			return fmt.Errorf("%w %q", ErrNoHandler, taskType)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.worker.Start()
		r.started = true
	}

	return nil
}

// Worker exposes the underlying worker for lifecycle control
// (pause/resume/shutdown).
func (r *Runtime) Worker() *Worker {
	return r.worker
}

// Store exposes the task store for read APIs.
func (r *Runtime) Store() store.TaskStore {
	return r.tasks
}

// Shutdown gracefully drains the worker, bounded by timeout.
func (r *Runtime) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()

	if started {
		r.worker.Shutdown(timeout)
	}
}
