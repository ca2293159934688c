package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusToDo       TaskStatus = "to-do"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskType     = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// Task represents one durable unit of schedulable work. The version column
// drives optimistic concurrency: an update only applies when the caller's
// expected version matches the stored one, which is what prevents two
// pollers from both claiming the same task.
type Task struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Input         json.RawMessage `json:"input"`
	Status        TaskStatus      `json:"status"`
	Version       int             `json:"version"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         *string         `json:"error,omitempty"`
	RunAfter      *time.Time      `json:"run_after,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a new to-do task of the given type. It uses a UUIDv7 so
// that IDs sort in creation order, and leaves runAfter nil unless the
// caller wants to defer eligibility.
func NewTask(taskType string, input json.RawMessage, runAfter *time.Time) (*Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task ID: %w", err)
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        id,
		Type:      taskType,
		Input:     input,
		Status:    TaskStatusToDo,
		Version:   1,
		Attempts:  0,
		RunAfter:  runAfter,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// Terminal reports whether the task can no longer change. Success is always
// terminal; failed is terminal once the attempt budget is spent.
func (t *Task) Terminal(maxAttempts int) bool {
	if t.Status == TaskStatusSuccess {
		return true
	}
	return t.Status == TaskStatusFailed && t.Attempts >= maxAttempts
}

// CanTransitionTo reports whether moving to the given status follows a legal
// state-machine edge: to-do → in-progress → {success, failed}, plus
// failed → in-progress for retries.
func (t *Task) CanTransitionTo(status TaskStatus) bool {
	switch t.Status {
	case TaskStatusToDo:
		return status == TaskStatusInProgress
	case TaskStatusInProgress:
		return status == TaskStatusSuccess || status == TaskStatusFailed
	case TaskStatusFailed:
		return status == TaskStatusInProgress
	case TaskStatusSuccess:
		return false
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusToDo, TaskStatusInProgress, TaskStatusSuccess, TaskStatusFailed:
		return true
	default:
		return false
	}
}
