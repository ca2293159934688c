package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

func TestItemTaskStoreUpsert(t *testing.T) {
	db := newTestDB(t)
	s := NewItemTaskStore(db)
	ctx := context.Background()

	entry := store.ItemTask{
		ItemPath:  "notes/a.md",
		TaskType:  "digest.crawl",
		Status:    domain.TaskStatusInProgress,
		UpdatedAt: store.NowUTC(),
	}
	require.NoError(t, s.Upsert(ctx, entry))

	// Upserting the same item+type replaces rather than duplicates.
	msg := "boom"
	entry.Status = domain.TaskStatusFailed
	entry.Error = &msg
	entry.UpdatedAt = store.NowUTC()
	require.NoError(t, s.Upsert(ctx, entry))

	got, err := s.ListByItem(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TaskStatusFailed, got[0].Status)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, "boom", *got[0].Error)
}

func TestItemTaskStoreListByItem(t *testing.T) {
	db := newTestDB(t)
	s := NewItemTaskStore(db)
	ctx := context.Background()

	now := store.NowUTC()
	require.NoError(t, s.Upsert(ctx, store.ItemTask{
		ItemPath: "notes/a.md", TaskType: "digest.summary",
		Status: domain.TaskStatusSuccess, UpdatedAt: now,
	}))
	require.NoError(t, s.Upsert(ctx, store.ItemTask{
		ItemPath: "notes/a.md", TaskType: "digest.crawl",
		Status: domain.TaskStatusSuccess, UpdatedAt: now,
	}))
	require.NoError(t, s.Upsert(ctx, store.ItemTask{
		ItemPath: "notes/b.md", TaskType: "digest.crawl",
		Status: domain.TaskStatusToDo, UpdatedAt: now,
	}))

	got, err := s.ListByItem(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "digest.crawl", got[0].TaskType, "entries sort by task type")
	assert.Equal(t, "digest.summary", got[1].TaskType)

	empty, err := s.ListByItem(ctx, "notes/missing.md")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
