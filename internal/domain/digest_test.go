package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDigest(t *testing.T) {
	digest, err := NewDigest("notes/a.md", "crawl")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, digest.ID)
	assert.Equal(t, "notes/a.md", digest.ItemPath)
	assert.Equal(t, "crawl", digest.Stage)
	assert.Equal(t, DigestStatusPending, digest.Status)
	assert.Nil(t, digest.Content)
	assert.Equal(t, 0, digest.Attempts)
}

func TestNewDigestValidation(t *testing.T) {
	_, err := NewDigest("", "crawl")
	assert.ErrorIs(t, err, ErrEmptyDigestItemPath)

	_, err = NewDigest("notes/a.md", "")
	assert.ErrorIs(t, err, ErrEmptyDigestStage)
}

func TestDigestValidateStatus(t *testing.T) {
	digest, err := NewDigest("notes/a.md", "crawl")
	require.NoError(t, err)

	for _, status := range []DigestStatus{
		DigestStatusPending,
		DigestStatusInProgress,
		DigestStatusCompleted,
		DigestStatusFailed,
		DigestStatusSkipped,
	} {
		digest.Status = status
		assert.NoError(t, digest.Validate(), "status %s", status)
	}

	digest.Status = "bogus"
	assert.ErrorIs(t, digest.Validate(), ErrInvalidDigestStatus)
}
