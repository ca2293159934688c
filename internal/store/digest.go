package store

import (
	"context"
	"time"

	"github.com/willow-notes/willow/internal/domain"
)

// DigestUpdate describes a partial mutation of a digest row. Nil fields
// are left untouched; the Clear flags null a column out explicitly.
type DigestUpdate struct {
	Status       *domain.DigestStatus
	Content      *string
	ClearContent bool
	ArtifactName *string
	Error        *string
	ClearError   bool
	Attempts     *int
}

// DigestStats counts digests grouped by stage and status.
type DigestStats struct {
	Total    int                         `json:"total"`
	ByStage  map[string]map[string]int   `json:"by_stage"`
	ByStatus map[domain.DigestStatus]int `json:"by_status"`
}

// DigestStore defines the persistence contract for pipeline digests.
// Identity is the (item path, stage) pair.
type DigestStore interface {
	// Create persists a new digest record.
	Create(ctx context.Context, digest *domain.Digest) error

	// GetByItemAndStage retrieves one stage's digest for an item.
	// Returns ErrDigestNotFound if absent.
	GetByItemAndStage(ctx context.Context, itemPath, stage string) (*domain.Digest, error)

	// ListByItem returns all digests for an item, oldest first.
	ListByItem(ctx context.Context, itemPath string) ([]*domain.Digest, error)

	// Update applies a partial update to one item+stage digest,
	// stamping updated_at. Returns ErrDigestNotFound if absent.
	Update(ctx context.Context, itemPath, stage string, update DigestUpdate) error

	// DeleteByItem removes every digest for an item and returns the count.
	// Used when a pipeline restarts from scratch.
	DeleteByItem(ctx context.Context, itemPath string) (int64, error)

	// Stats returns digest counts grouped by stage and status.
	Stats(ctx context.Context) (*DigestStats, error)
}

// NowUTC returns the current time in UTC truncated to millisecond
// precision, the resolution the store keeps timestamps at.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
