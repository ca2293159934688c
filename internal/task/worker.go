package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/platform/logger"
	"github.com/willow-notes/willow/internal/store"
)

// WorkerState is the lifecycle state of the polling worker.
type WorkerState string

// Worker lifecycle states
const (
	WorkerStopped  WorkerState = "stopped"
	WorkerRunning  WorkerState = "running"
	WorkerPaused   WorkerState = "paused"
	WorkerStopping WorkerState = "stopping"
)

// WorkerConfig holds configuration for the polling worker.
type WorkerConfig struct {
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration

	// BatchSize caps how many ready tasks execute concurrently per cycle.
	BatchSize int

	// MaxAttempts is the per-task execution attempt budget.
	MaxAttempts int

	// StaleTimeout is how long a task may sit in-progress before the
	// stale sweep reclaims it.
	StaleTimeout time.Duration

	// StaleRecoveryInterval is the delay between stale sweeps.
	StaleRecoveryInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:          time.Second,
		BatchSize:             5,
		MaxAttempts:           3,
		StaleTimeout:          5 * time.Minute,
		StaleRecoveryInterval: time.Minute,
	}
}

// Worker is the polling loop: on one timer it asks the scheduler for ready
// tasks and hands them to the executor as a bounded concurrent batch; on a
// second, slower timer it recovers stale in-progress tasks. Both loops are
// self-healing: a bad cycle is logged and the next one still happens.
type Worker struct {
	scheduler *Scheduler
	executor  *Executor
	config    WorkerConfig
	logger    *slog.Logger

	mu       sync.Mutex
	state    WorkerState
	stopChan chan struct{}
	pollNow  chan struct{}
	loops    sync.WaitGroup
	inFlight sync.WaitGroup
}

// NewWorker creates a worker in the stopped state.
func NewWorker(scheduler *Scheduler, executor *Executor, config WorkerConfig, log *slog.Logger) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = 5 * time.Minute
	}
	if config.StaleRecoveryInterval <= 0 {
		config.StaleRecoveryInterval = time.Minute
	}

	return &Worker{
		scheduler: scheduler,
		executor:  executor,
		config:    config,
		logger:    log,
		state:     WorkerStopped,
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start launches the poll and stale-recovery loops. Calling Start while
// the worker is already running (or paused) is a no-op, so hot-reload
// paths can call it freely without orphaning timers. Start during an
// in-flight shutdown is also refused; loops launched then would never
// see their stop channel close.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WorkerRunning || w.state == WorkerPaused || w.state == WorkerStopping {
		w.logger.Debug("worker not startable", "state", w.state)
		return
	}

	w.state = WorkerRunning
	w.stopChan = make(chan struct{})
	w.pollNow = make(chan struct{}, 1)

	w.loops.Add(2)
	go w.pollLoop(w.stopChan)
	go w.staleLoop(w.stopChan)

	w.logger.Info("worker started",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize,
		"max_attempts", w.config.MaxAttempts,
		"stale_timeout", w.config.StaleTimeout)
}

// Pause suspends processing without tearing the timers down.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WorkerRunning {
		w.state = WorkerPaused
		w.logger.Info("worker paused")
	}
}

// Resume re-enables processing and triggers an immediate poll rather than
// waiting for the next tick.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != WorkerPaused {
		return
	}
	w.state = WorkerRunning
	w.logger.Info("worker resumed")

	select {
	case w.pollNow <- struct{}{}:
	default:
	}
}

// Stop cancels both timers without waiting for in-flight executions. The
// current batch, if any, settles in the background; its writes are still
// version-guarded, so overlap with a later Start is harmless.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WorkerStopped || w.state == WorkerStopping {
		return
	}
	w.state = WorkerStopped
	close(w.stopChan)

	w.logger.Info("worker stopped")
}

// Shutdown is the graceful variant of Stop: it stops scheduling new polls,
// then waits, bounded by timeout, for all in-flight task executions to
// finish. On timeout it logs a warning and returns anyway; it never blocks
// forever.
func (w *Worker) Shutdown(timeout time.Duration) {
	w.mu.Lock()
	if w.state == WorkerStopped || w.state == WorkerStopping {
		w.mu.Unlock()
		return
	}
	w.state = WorkerStopping
	close(w.stopChan)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker drained")
	case <-time.After(timeout):
		w.logger.Warn("worker shutdown timed out with executions still in flight",
			"timeout", timeout)
	}

	w.mu.Lock()
	w.state = WorkerStopped
	w.mu.Unlock()
}

// pollLoop fetches and executes ready batches. The next poll is scheduled
// after the current batch settles, unconditionally; one bad tick never
// stops future ticks.
func (w *Worker) pollLoop(stop <-chan struct{}) {
	defer w.loops.Done()

	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		case <-w.pollNow:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if w.State() == WorkerRunning {
			w.poll()
		}

		timer.Reset(w.config.PollInterval)
	}
}

// staleLoop periodically recovers abandoned in-progress tasks. It runs on
// its own timer so a burst of recoveries never delays normal dispatch.
func (w *Worker) staleLoop(stop <-chan struct{}) {
	defer w.loops.Done()

	ticker := time.NewTicker(w.config.StaleRecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.State() == WorkerRunning {
				w.recoverStale()
			}
		}
	}
}

// poll runs one cycle: fetch a ready batch and execute it concurrently,
// then wait for every execution to settle. A failing task never aborts
// the batch; outcomes are recorded per task by the executor.
func (w *Worker) poll() {
	ctx := logger.WithContext(context.Background(), w.logger)

	tasks, err := w.scheduler.ReadyTasks(ctx, w.config.BatchSize, w.config.MaxAttempts)
	if err != nil {
		w.logger.Error("failed to fetch ready tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	w.logger.Debug("executing batch", "count", len(tasks))

	var batch sync.WaitGroup
	for _, t := range tasks {
		batch.Add(1)
		w.inFlight.Add(1)
		go func(t *domain.Task) {
			defer batch.Done()
			defer w.inFlight.Done()

			_, err := w.executor.Execute(ctx, t.ID, w.config.MaxAttempts)
			if err != nil && !isExpectedExecuteError(err) {
				w.logger.Error("task execution error",
					"task_id", t.ID,
					"task_type", t.Type,
					"error", err)
			}
		}(t)
	}
	batch.Wait()
}

// recoverStale runs one stale sweep.
func (w *Worker) recoverStale() {
	ctx := logger.WithContext(context.Background(), w.logger)

	tasks, err := w.scheduler.StaleTasks(ctx, w.config.StaleTimeout)
	if err != nil {
		w.logger.Error("failed to fetch stale tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	recovered := w.executor.RecoverStale(ctx, tasks)
	w.logger.Info("stale recovery pass complete",
		"stale", len(tasks),
		"recovered", recovered)
}

// isExpectedExecuteError reports whether an Execute error is a normal race
// or lifecycle outcome rather than something worth an error log.
func isExpectedExecuteError(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrMaxAttempts) ||
		errors.Is(err, store.ErrTaskNotFound)
}
