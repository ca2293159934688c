package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/platform/logger"
	"github.com/willow-notes/willow/internal/store"
)

const digestColumns = `id, item_path, stage, status, content, artifact_name,
	error, attempts, created_at, updated_at`

// SQLiteDigestStore implements the store.DigestStore interface using SQLite.
type SQLiteDigestStore struct {
	db store.DBTX
}

// NewDigestStore creates a new SQLiteDigestStore.
func NewDigestStore(db store.DBTX) *SQLiteDigestStore {
	return &SQLiteDigestStore{db: db}
}

var _ store.DigestStore = (*SQLiteDigestStore)(nil)

// Create persists a new digest record.
func (s *SQLiteDigestStore) Create(ctx context.Context, digest *domain.Digest) error {
	log := logger.FromContext(ctx)

	if err := digest.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO digests (id, item_path, stage, status, content, artifact_name,
			error, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		digest.ID.String(),
		digest.ItemPath,
		digest.Stage,
		string(digest.Status),
		digest.Content,
		digest.ArtifactName,
		digest.Error,
		digest.Attempts,
		millis(digest.CreatedAt),
		millis(digest.UpdatedAt),
	)
	if err != nil {
		log.Error("failed to save digest",
			"item_path", digest.ItemPath,
			"stage", digest.Stage,
			"error", err)
		return fmt.Errorf("failed to save digest to database: %w", err)
	}

	return nil
}

// GetByItemAndStage retrieves one stage's digest for an item.
func (s *SQLiteDigestStore) GetByItemAndStage(ctx context.Context, itemPath, stage string) (*domain.Digest, error) {
	query := `SELECT ` + digestColumns + ` FROM digests WHERE item_path = ? AND stage = ?`

	row := s.db.QueryRowContext(ctx, query, itemPath, stage)
	digest, err := scanDigest(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrDigestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get digest: %w", err)
	}

	return digest, nil
}

// ListByItem returns all digests for an item, oldest first.
func (s *SQLiteDigestStore) ListByItem(ctx context.Context, itemPath string) ([]*domain.Digest, error) {
	query := `SELECT ` + digestColumns + ` FROM digests WHERE item_path = ? ORDER BY created_at ASC, stage ASC`

	rows, err := s.db.QueryContext(ctx, query, itemPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query digests: %w", err)
	}
	defer rows.Close()

	var digests []*domain.Digest
	for rows.Next() {
		digest, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan digest row: %w", err)
		}
		digests = append(digests, digest)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating digest rows: %w", err)
	}

	return digests, nil
}

// Update applies a partial update to one item+stage digest.
func (s *SQLiteDigestStore) Update(ctx context.Context, itemPath, stage string, update store.DigestUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{millis(store.NowUTC())}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *update.Content)
	} else if update.ClearContent {
		sets = append(sets, "content = NULL")
	}
	if update.ArtifactName != nil {
		sets = append(sets, "artifact_name = ?")
		args = append(args, *update.ArtifactName)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	} else if update.ClearError {
		sets = append(sets, "error = NULL")
	}
	if update.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *update.Attempts)
	}

	query := "UPDATE digests SET " + strings.Join(sets, ", ") + " WHERE item_path = ? AND stage = ?"
	args = append(args, itemPath, stage)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update digest: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrDigestNotFound
	}

	return nil
}

// DeleteByItem removes every digest for an item.
func (s *SQLiteDigestStore) DeleteByItem(ctx context.Context, itemPath string) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM digests WHERE item_path = ?", itemPath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete digests: %w", err)
	}

	return result.RowsAffected()
}

// Stats returns digest counts grouped by stage and status.
func (s *SQLiteDigestStore) Stats(ctx context.Context) (*store.DigestStats, error) {
	stats := &store.DigestStats{
		ByStage:  make(map[string]map[string]int),
		ByStatus: make(map[domain.DigestStatus]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT stage, status, COUNT(*) FROM digests GROUP BY stage, status")
	if err != nil {
		return nil, fmt.Errorf("failed to query digest stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage, status string
		var count int
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan digest stat: %w", err)
		}
		if stats.ByStage[stage] == nil {
			stats.ByStage[stage] = make(map[string]int)
		}
		stats.ByStage[stage][status] = count
		stats.ByStatus[domain.DigestStatus(status)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating digest stats: %w", err)
	}

	return stats, nil
}

// scanDigest scans one digestColumns row into a domain.Digest.
func scanDigest(row rowScanner) (*domain.Digest, error) {
	var (
		idStr        string
		itemPath     string
		stage        string
		status       string
		content      sql.NullString
		artifactName sql.NullString
		errMsg       sql.NullString
		attempts     int
		createdAt    int64
		updatedAt    int64
	)

	if err := row.Scan(
		&idStr, &itemPath, &stage, &status, &content, &artifactName,
		&errMsg, &attempts, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid digest ID %q: %w", idStr, err)
	}

	digest := &domain.Digest{
		ID:        id,
		ItemPath:  itemPath,
		Stage:     stage,
		Status:    domain.DigestStatus(status),
		Attempts:  attempts,
		CreatedAt: fromMillis(createdAt),
		UpdatedAt: fromMillis(updatedAt),
	}
	if content.Valid {
		digest.Content = &content.String
	}
	if artifactName.Valid {
		digest.ArtifactName = &artifactName.String
	}
	if errMsg.Valid {
		digest.Error = &errMsg.String
	}

	return digest, nil
}
