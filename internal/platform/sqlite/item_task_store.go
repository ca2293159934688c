package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

// SQLiteItemTaskStore implements store.ItemTaskStore. The item_tasks table
// is a read-optimization projection; its writes are best-effort and the
// queue is correct without them.
type SQLiteItemTaskStore struct {
	db store.DBTX
}

// NewItemTaskStore creates a new SQLiteItemTaskStore.
func NewItemTaskStore(db store.DBTX) *SQLiteItemTaskStore {
	return &SQLiteItemTaskStore{db: db}
}

var _ store.ItemTaskStore = (*SQLiteItemTaskStore)(nil)

// Upsert records the latest state of a task type for an item.
func (s *SQLiteItemTaskStore) Upsert(ctx context.Context, entry store.ItemTask) error {
	query := `
		INSERT INTO item_tasks (item_path, task_type, status, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (item_path, task_type)
		DO UPDATE SET status = excluded.status, error = excluded.error, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ItemPath,
		entry.TaskType,
		string(entry.Status),
		entry.Error,
		millis(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item task: %w", err)
	}

	return nil
}

// ListByItem returns all projected task states for an item.
func (s *SQLiteItemTaskStore) ListByItem(ctx context.Context, itemPath string) ([]store.ItemTask, error) {
	query := `
		SELECT item_path, task_type, status, error, updated_at
		FROM item_tasks
		WHERE item_path = ?
		ORDER BY task_type ASC
	`

	rows, err := s.db.QueryContext(ctx, query, itemPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query item tasks: %w", err)
	}
	defer rows.Close()

	var entries []store.ItemTask
	for rows.Next() {
		var entry store.ItemTask
		var status string
		var errMsg sql.NullString
		var updatedAt int64

		if err := rows.Scan(&entry.ItemPath, &entry.TaskType, &status, &errMsg, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item task row: %w", err)
		}

		entry.Status = domain.TaskStatus(status)
		if errMsg.Valid {
			entry.Error = &errMsg.String
		}
		entry.UpdatedAt = fromMillis(updatedAt)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item task rows: %w", err)
	}

	return entries, nil
}
