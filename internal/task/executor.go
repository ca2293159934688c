package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

// Result reports the outcome of one Execute call.
type Result struct {
	TaskID      uuid.UUID
	Status      domain.TaskStatus
	Output      json.RawMessage
	Error       string
	ShouldRetry bool
}

// Executor claims one task at a time via the store's conditional update,
// invokes the registered handler, and writes back terminal or retry state.
// It never lets a handler failure escape: every outcome lands in the task
// row.
type Executor struct {
	tasks       store.TaskStore
	registry    *Registry
	projections store.ItemTaskStore
	logger      *slog.Logger
}

// NewExecutor creates an executor. projections may be nil; the per-item
// status mirror is a read optimization, not a correctness dependency.
func NewExecutor(
	tasks store.TaskStore,
	registry *Registry,
	projections store.ItemTaskStore,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		tasks:       tasks,
		registry:    registry,
		projections: projections,
		logger:      logger,
	}
}

// Execute runs one task to a terminal or retryable state.
//
// The claim is a conditional write on the version read beforehand; if it
// affects zero rows another worker owns the task and the handler is never
// invoked here. A task read back as in-progress is refused outright with
// ErrAlreadyClaimed, so at most one executor runs the handler even when a
// racer reads the row after the winner's claim has committed. After the handler runs, the completion write is conditioned
// on the version captured at claim time; a mismatch there is logged but
// not treated as fatal, because the handler already ran and must not run
// again.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID, maxAttempts int) (*Result, error) {
	log := e.logger.With("task_id", id)

	// Step 1: task must exist.
	task, err := e.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return &Result{TaskID: id, Error: "task not found"}, err
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	// Step 2: already succeeded. Return the cached output, never re-run.
	if task.Status == domain.TaskStatusSuccess {
		log.Debug("task already succeeded, returning cached output")
		return &Result{TaskID: id, Status: domain.TaskStatusSuccess, Output: task.Output}, nil
	}

	// Step 3: someone else is running it right now. The version condition
	// on the claim only rejects a racer holding a stale read; a racer that
	// reads the row after the winner's claim committed would see the fresh
	// version, so the status gate closes that window.
	if task.Status == domain.TaskStatusInProgress {
		log.Debug("task already claimed", "version", task.Version)
		return &Result{TaskID: id, Error: ErrAlreadyClaimed.Error()}, ErrAlreadyClaimed
	}

	// Step 4: attempt budget spent.
	if task.Attempts >= maxAttempts {
		return &Result{
			TaskID: id,
			Status: task.Status,
			Error:  ErrMaxAttempts.Error(),
		}, ErrMaxAttempts
	}

	// Step 5: claim. attempts is incremented here, before the handler runs,
	// so a crash mid-execution still consumes an attempt.
	now := store.NowUTC()
	claimStatus := domain.TaskStatusInProgress
	claimAttempts := task.Attempts + 1
	err = e.tasks.Update(ctx, id, task.Version, store.TaskUpdate{
		Status:        &claimStatus,
		Attempts:      &claimAttempts,
		LastAttemptAt: &now,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			log.Debug("lost claim race", "expected_version", task.Version)
			return &Result{TaskID: id, Error: ErrAlreadyClaimed.Error()}, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	e.mirror(ctx, task.Type, task.Input, domain.TaskStatusInProgress, nil)

	// Step 6: re-fetch for the fresh version the completion write needs.
	claimed, err := e.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to re-fetch claimed task: %w", err)
	}

	// Step 7: a missing handler is a registration bug, never retried.
	handler, ok := e.registry.Get(claimed.Type)
	if !ok {
		msg := fmt.Sprintf("%s %q", ErrNoHandler.Error(), claimed.Type)
		e.failPermanently(ctx, claimed, maxAttempts, msg)
		return &Result{TaskID: id, Status: domain.TaskStatusFailed, Error: msg}, ErrNoHandler
	}

	// Step 8: run the handler.
	output, handlerErr := e.invoke(ctx, handler, claimed.Input)

	if handlerErr == nil {
		outputJSON, err := json.Marshal(output)
		if err != nil {
			handlerErr = fmt.Errorf("failed to serialize handler output: %w", err)
		} else {
			successStatus := domain.TaskStatusSuccess
			raw := json.RawMessage(outputJSON)
			err = e.tasks.Update(ctx, id, claimed.Version, store.TaskUpdate{
				Status:     &successStatus,
				Output:     &raw,
				ClearError: true,
			})
			if errors.Is(err, store.ErrVersionMismatch) {
				// The handler already ran; don't run it again over a
				// bookkeeping conflict.
				log.Warn("version conflict writing task success", "version", claimed.Version)
			} else if err != nil {
				return nil, fmt.Errorf("failed to record task success: %w", err)
			}

			e.mirror(ctx, claimed.Type, claimed.Input, domain.TaskStatusSuccess, nil)
			return &Result{TaskID: id, Status: domain.TaskStatusSuccess, Output: raw}, nil
		}
	}

	// Step 9: record the failure and let the next poll cycle retry it.
	msg := handlerErr.Error()
	shouldRetry := claimed.Attempts < maxAttempts

	failedStatus := domain.TaskStatusFailed
	diagnostic, _ := json.Marshal(msg)
	raw := json.RawMessage(diagnostic)
	update := store.TaskUpdate{
		Status: &failedStatus,
		Error:  &msg,
		Output: &raw,
	}
	if shouldRetry {
		runAfter := store.NowUTC().Add(RetryDelay(claimed.Attempts))
		update.RunAfter = &runAfter
	}

	err = e.tasks.Update(ctx, id, claimed.Version, update)
	if errors.Is(err, store.ErrVersionMismatch) {
		log.Warn("version conflict writing task failure", "version", claimed.Version)
	} else if err != nil {
		return nil, fmt.Errorf("failed to record task failure: %w", err)
	}

	log.Error("task execution failed",
		"task_type", claimed.Type,
		"attempts", claimed.Attempts,
		"should_retry", shouldRetry,
		"error", msg)

	e.mirror(ctx, claimed.Type, claimed.Input, domain.TaskStatusFailed, &msg)

	return &Result{
		TaskID:      id,
		Status:      domain.TaskStatusFailed,
		Error:       msg,
		ShouldRetry: shouldRetry,
	}, nil
}

// RecoverStale conditionally fails each stale in-progress task and returns
// how many transitions actually applied. Tasks that completed between the
// stale scan and this pass lose the version check and are left alone; that
// race is expected.
func (e *Executor) RecoverStale(ctx context.Context, tasks []*domain.Task) int {
	recovered := 0
	for _, t := range tasks {
		msg := "timed out"
		failedStatus := domain.TaskStatusFailed
		err := e.tasks.Update(ctx, t.ID, t.Version, store.TaskUpdate{
			Status: &failedStatus,
			Error:  &msg,
		})
		if errors.Is(err, store.ErrVersionMismatch) || errors.Is(err, store.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			e.logger.Error("failed to recover stale task", "task_id", t.ID, "error", err)
			continue
		}

		e.logger.Warn("recovered stale task",
			"task_id", t.ID,
			"task_type", t.Type,
			"last_attempt_at", t.LastAttemptAt)
		e.mirror(ctx, t.Type, t.Input, domain.TaskStatusFailed, &msg)
		recovered++
	}
	return recovered
}

// invoke runs the handler, converting a panic into an ordinary error so a
// misbehaving handler can never take down the poll loop.
func (e *Executor) invoke(ctx context.Context, handler Handler, input json.RawMessage) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, input)
}

// failPermanently marks a task failed with its attempt budget spent so the
// scheduler never returns it again.
func (e *Executor) failPermanently(ctx context.Context, t *domain.Task, maxAttempts int, msg string) {
	failedStatus := domain.TaskStatusFailed
	attempts := maxAttempts
	diagnostic, _ := json.Marshal(msg)
	raw := json.RawMessage(diagnostic)

	err := e.tasks.Update(ctx, t.ID, t.Version, store.TaskUpdate{
		Status:   &failedStatus,
		Attempts: &attempts,
		Error:    &msg,
		Output:   &raw,
	})
	if err != nil && !errors.Is(err, store.ErrVersionMismatch) {
		e.logger.Error("failed to permanently fail task", "task_id", t.ID, "error", err)
	}

	e.mirror(ctx, t.Type, t.Input, domain.TaskStatusFailed, &msg)
}

// taskItemRef is the optional item reference a task input may carry.
type taskItemRef struct {
	ItemPath string `json:"itemPath"`
}

// mirror writes the per-item projection entry when the task input names an
// owning item. Failures are logged and swallowed: the projection exists
// for dashboard reads only.
func (e *Executor) mirror(
	ctx context.Context,
	taskType string,
	input json.RawMessage,
	status domain.TaskStatus,
	errMsg *string,
) {
	if e.projections == nil || len(input) == 0 {
		return
	}

	var ref taskItemRef
	if err := json.Unmarshal(input, &ref); err != nil || ref.ItemPath == "" {
		return
	}

	entry := store.ItemTask{
		ItemPath:  ref.ItemPath,
		TaskType:  taskType,
		Status:    status,
		Error:     errMsg,
		UpdatedAt: store.NowUTC(),
	}
	if err := e.projections.Upsert(ctx, entry); err != nil {
		e.logger.Warn("failed to mirror task state",
			"item_path", ref.ItemPath,
			"task_type", taskType,
			"error", err)
	}
}
