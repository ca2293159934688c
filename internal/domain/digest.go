package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DigestStatus represents the state of one enrichment stage for one item
type DigestStatus string

// Possible digest status values
const (
	DigestStatusPending    DigestStatus = "pending"
	DigestStatusInProgress DigestStatus = "in-progress"
	DigestStatusCompleted  DigestStatus = "completed"
	DigestStatusFailed     DigestStatus = "failed"
	DigestStatusSkipped    DigestStatus = "skipped"
)

// Common validation errors for Digest
var (
	ErrEmptyDigestItemPath = errors.New("digest item path cannot be empty")
	ErrEmptyDigestStage    = errors.New("digest stage cannot be empty")
	ErrInvalidDigestStatus = errors.New("invalid digest status")
)

// Digest records one pipeline stage's outcome for one item. Identity is the
// (ItemPath, Stage) pair, so re-running a stage overwrites its digest
// rather than duplicating it.
type Digest struct {
	ID           uuid.UUID    `json:"id"`
	ItemPath     string       `json:"item_path"`
	Stage        string       `json:"stage"`
	Status       DigestStatus `json:"status"`
	Content      *string      `json:"content,omitempty"`
	ArtifactName *string      `json:"artifact_name,omitempty"`
	Error        *string      `json:"error,omitempty"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewDigest creates a pending digest record for an item+stage pair.
func NewDigest(itemPath, stage string) (*Digest, error) {
	now := time.Now().UTC()
	digest := &Digest{
		ID:        uuid.New(),
		ItemPath:  itemPath,
		Stage:     stage,
		Status:    DigestStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := digest.Validate(); err != nil {
		return nil, err
	}

	return digest, nil
}

// Validate checks if the Digest has valid data.
func (d *Digest) Validate() error {
	if d.ItemPath == "" {
		return ErrEmptyDigestItemPath
	}

	if d.Stage == "" {
		return ErrEmptyDigestStage
	}

	if !isValidDigestStatus(d.Status) {
		return ErrInvalidDigestStatus
	}

	return nil
}

// isValidDigestStatus checks if the given status is a valid DigestStatus.
func isValidDigestStatus(status DigestStatus) bool {
	switch status {
	case DigestStatusPending, DigestStatusInProgress, DigestStatusCompleted,
		DigestStatusFailed, DigestStatusSkipped:
		return true
	default:
		return false
	}
}
