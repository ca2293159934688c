package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/willow-notes/willow/internal/domain"
)

// TaskFilter narrows List queries. Zero-value fields are ignored.
type TaskFilter struct {
	Type   string
	Status domain.TaskStatus
	Limit  int
}

// TaskUpdate describes a partial mutation of a task row. Nil fields are
// left untouched. The store always stamps updated_at and bumps version
// alongside whatever the caller sets, and stamps completed_at when the
// status moves to a terminal value.
type TaskUpdate struct {
	Status        *domain.TaskStatus
	Attempts      *int
	LastAttemptAt *time.Time
	Output        *json.RawMessage
	Error         *string
	ClearError    bool
	RunAfter      *time.Time
	ClearRunAfter bool
}

// TaskStats aggregates row counts for the status dashboard.
type TaskStats struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
	ByType   map[string]int            `json:"by_type"`
}

// TaskStore defines the persistence contract for tasks.
//
// Update is the load-bearing operation: it must apply the mutation in a
// single conditional statement (WHERE id = ? AND version = ?) and report
// ErrVersionMismatch when no row matched. That one statement is the entire
// cross-process claim-arbitration mechanism.
type TaskStore interface {
	// Create persists a new task.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks matching the filter, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// Update applies a conditional partial update. It returns
	// ErrVersionMismatch when the stored version differs from
	// expectedVersion, and ErrTaskNotFound when the row is gone entirely.
	Update(ctx context.Context, id uuid.UUID, expectedVersion int, update TaskUpdate) error

	// Delete removes a task by ID. Returns ErrTaskNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByStatus removes all tasks with the given status and returns
	// how many rows were deleted.
	DeleteByStatus(ctx context.Context, status domain.TaskStatus) (int64, error)

	// CleanupOlderThan removes terminal tasks whose completed_at is older
	// than the given age and returns how many rows were deleted.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Stats returns task counts grouped by status and by type.
	Stats(ctx context.Context) (*TaskStats, error)

	// Ready returns up to limit runnable tasks: status to-do or failed,
	// attempts below maxAttempts, run_after unset or past, oldest first.
	Ready(ctx context.Context, limit, maxAttempts int) ([]*domain.Task, error)

	// Stale returns in-progress tasks whose last_attempt_at is older than
	// the given age: work a worker started but never finished.
	Stale(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)
}

// ItemTask is a per-item projection of a task's latest state, kept purely
// for fast dashboard reads. It is best-effort: the queue is correct
// without it.
type ItemTask struct {
	ItemPath  string            `json:"item_path"`
	TaskType  string            `json:"task_type"`
	Status    domain.TaskStatus `json:"status"`
	Error     *string           `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ItemTaskStore persists the per-item task-state projection.
type ItemTaskStore interface {
	// Upsert records the latest state of a task type for an item.
	Upsert(ctx context.Context, entry ItemTask) error

	// ListByItem returns all projected task states for an item.
	ListByItem(ctx context.Context, itemPath string) ([]ItemTask, error)
}
