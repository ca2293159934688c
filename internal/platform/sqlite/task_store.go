package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/platform/logger"
	"github.com/willow-notes/willow/internal/store"
)

// taskColumns is the SELECT list shared by every task read.
const taskColumns = `id, type, input, status, version, attempts, last_attempt_at,
	output, error, run_after, created_at, updated_at, completed_at`

// SQLiteTaskStore implements the store.TaskStore interface using SQLite.
type SQLiteTaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new SQLiteTaskStore.
func NewTaskStore(db store.DBTX) *SQLiteTaskStore {
	return &SQLiteTaskStore{db: db}
}

// Ensure the interface is satisfied.
var _ store.TaskStore = (*SQLiteTaskStore)(nil)

// Create persists a new task to the database.
func (s *SQLiteTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, type, input, status, version, attempts, last_attempt_at,
			output, error, run_after, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID.String(),
		task.Type,
		rawJSONValue(task.Input),
		string(task.Status),
		task.Version,
		task.Attempts,
		millisPtr(task.LastAttemptAt),
		rawJSONValue(task.Output),
		task.Error,
		millisPtr(task.RunAfter),
		millis(task.CreatedAt),
		millis(task.UpdatedAt),
		millisPtr(task.CompletedAt),
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return fmt.Errorf("failed to save task to database: %w", err)
	}

	return nil
}

// GetByID retrieves a task by its unique ID.
func (s *SQLiteTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id.String())
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by ID: %w", err)
	}

	return task, nil
}

// List retrieves tasks matching the filter, newest first.
func (s *SQLiteTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	var conds []string
	var args []any

	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryTasks(ctx, query, args...)
}

// Update applies a conditional partial update in a single statement:
// UPDATE ... WHERE id = ? AND version = ?. Exactly one affected row means
// the caller held the current version; zero rows means it lost the race
// (ErrVersionMismatch) or the task is gone (ErrTaskNotFound).
func (s *SQLiteTaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int,
	update store.TaskUpdate,
) error {
	log := logger.FromContext(ctx)

	now := store.NowUTC()
	sets := []string{"version = version + 1", "updated_at = ?"}
	args := []any{millis(now)}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))

		// Terminal transitions stamp completed_at.
		if *update.Status == domain.TaskStatusSuccess || *update.Status == domain.TaskStatusFailed {
			sets = append(sets, "completed_at = ?")
			args = append(args, millis(now))
		}
	}
	if update.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *update.Attempts)
	}
	if update.LastAttemptAt != nil {
		sets = append(sets, "last_attempt_at = ?")
		args = append(args, millis(*update.LastAttemptAt))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, rawJSONValue(*update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	} else if update.ClearError {
		sets = append(sets, "error = NULL")
	}
	if update.RunAfter != nil {
		sets = append(sets, "run_after = ?")
		args = append(args, millis(*update.RunAfter))
	} else if update.ClearRunAfter {
		sets = append(sets, "run_after = NULL")
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ? AND version = ?"
	args = append(args, id.String(), expectedVersion)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task",
			"task_id", id,
			"expected_version", expectedVersion,
			"error", err)
		return fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Distinguish a lost race from a missing row.
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM tasks WHERE id = ?", id.String()).Scan(&exists)
		if err == sql.ErrNoRows {
			return store.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check task existence: %w", err)
		}
		return store.ErrVersionMismatch
	}

	return nil
}

// Delete removes a task by ID.
func (s *SQLiteTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// DeleteByStatus removes all tasks with the given status.
func (s *SQLiteTaskStore) DeleteByStatus(ctx context.Context, status domain.TaskStatus) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE status = ?", string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks by status: %w", err)
	}

	return result.RowsAffected()
}

// CleanupOlderThan removes terminal tasks completed before the cutoff.
func (s *SQLiteTaskStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := store.NowUTC().Add(-age)

	query := `
		DELETE FROM tasks
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.TaskStatusSuccess),
		string(domain.TaskStatusFailed),
		millis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old tasks: %w", err)
	}

	return result.RowsAffected()
}

// Stats returns task counts grouped by status and by type.
func (s *SQLiteTaskStore) Stats(ctx context.Context) (*store.TaskStats, error) {
	stats := &store.TaskStats{
		ByStatus: make(map[domain.TaskStatus]int),
		ByType:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to query task status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task status count: %w", err)
		}
		stats.ByStatus[domain.TaskStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task status counts: %w", err)
	}

	typeRows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM tasks GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to query task type counts: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var taskType string
		var count int
		if err := typeRows.Scan(&taskType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task type count: %w", err)
		}
		stats.ByType[taskType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task type counts: %w", err)
	}

	return stats, nil
}

// Ready returns up to limit runnable tasks, oldest first. Tasks that have
// exhausted their attempt budget stay queryable for diagnostics but are
// never returned here.
func (s *SQLiteTaskStore) Ready(ctx context.Context, limit, maxAttempts int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN (?, ?)
			AND attempts < ?
			AND (run_after IS NULL OR run_after <= ?)
		ORDER BY created_at ASC
		LIMIT ?`

	return s.queryTasks(ctx, query,
		string(domain.TaskStatusToDo),
		string(domain.TaskStatusFailed),
		maxAttempts,
		millis(store.NowUTC()),
		limit,
	)
}

// Stale returns in-progress tasks whose last attempt started before the
// cutoff: work claimed by a worker that most likely died mid-execution.
func (s *SQLiteTaskStore) Stale(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	cutoff := store.NowUTC().Add(-olderThan)

	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = ? AND last_attempt_at IS NOT NULL AND last_attempt_at < ?
		ORDER BY created_at ASC`

	return s.queryTasks(ctx, query, string(domain.TaskStatusInProgress), millis(cutoff))
}

// queryTasks runs a SELECT over taskColumns and scans all rows.
func (s *SQLiteTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", "error", err)
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans one taskColumns row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		idStr         string
		taskType      string
		input         sql.NullString
		status        string
		version       int
		attempts      int
		lastAttemptAt sql.NullInt64
		output        sql.NullString
		errMsg        sql.NullString
		runAfter      sql.NullInt64
		createdAt     int64
		updatedAt     int64
		completedAt   sql.NullInt64
	)

	if err := row.Scan(
		&idStr, &taskType, &input, &status, &version, &attempts, &lastAttemptAt,
		&output, &errMsg, &runAfter, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid task ID %q: %w", idStr, err)
	}

	task := &domain.Task{
		ID:            id,
		Type:          taskType,
		Status:        domain.TaskStatus(status),
		Version:       version,
		Attempts:      attempts,
		LastAttemptAt: timePtr(lastAttemptAt),
		RunAfter:      timePtr(runAfter),
		CreatedAt:     fromMillis(createdAt),
		UpdatedAt:     fromMillis(updatedAt),
		CompletedAt:   timePtr(completedAt),
	}
	if input.Valid {
		task.Input = json.RawMessage(input.String)
	}
	if output.Valid {
		task.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		task.Error = &errMsg.String
	}

	return task, nil
}
