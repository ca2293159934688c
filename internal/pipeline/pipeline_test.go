package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/platform/sqlite"
	"github.com/willow-notes/willow/internal/store"
	"github.com/willow-notes/willow/internal/task"
)

// fakeEnricher implements all four enrichment interfaces with canned
// results, call counters, and per-stage failure injection.
type fakeEnricher struct {
	crawls     atomic.Int32
	summaries  atomic.Int32
	taggings   atomic.Int32
	slugs      atomic.Int32
	crawlErr   error
	summaryErr error
	tagErr     error
	slugErr    error
}

func (f *fakeEnricher) Crawl(_ context.Context, url string) (string, error) {
	f.crawls.Add(1)
	if f.crawlErr != nil {
		return "", f.crawlErr
	}
	return "crawled content of " + url, nil
}

func (f *fakeEnricher) Summarize(_ context.Context, content string) (string, error) {
	f.summaries.Add(1)
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "summary: " + content, nil
}

func (f *fakeEnricher) Tag(_ context.Context, _ string) ([]string, error) {
	f.taggings.Add(1)
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	return []string{"alpha", "beta"}, nil
}

func (f *fakeEnricher) Slug(_ context.Context, _ string) (string, error) {
	f.slugs.Add(1)
	if f.slugErr != nil {
		return "", f.slugErr
	}
	return "test-slug", nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeEnricher, store.DigestStore, *task.Runtime) {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runtime := task.NewRuntime(
		sqlite.NewTaskStore(db),
		sqlite.NewItemTaskStore(db),
		task.WorkerConfig{
			PollInterval:          10 * time.Millisecond,
			BatchSize:             5,
			MaxAttempts:           3,
			StaleTimeout:          5 * time.Minute,
			StaleRecoveryInterval: time.Minute,
		},
		log,
	)
	t.Cleanup(func() { runtime.Shutdown(2 * time.Second) })

	fake := &fakeEnricher{}
	digests := sqlite.NewDigestStore(db)
	p := New(runtime, digests, Enrichers{
		Crawler:    fake,
		Summarizer: fake,
		Tagger:     fake,
		Slugger:    fake,
	}, log)
	p.RegisterHandlers()

	return p, fake, digests, runtime
}

func waitForOverall(t *testing.T, p *Pipeline, itemPath string, want domain.DigestStatus) *Status {
	t.Helper()

	var status *Status
	require.Eventually(t, func() bool {
		var err error
		status, err = p.Status(context.Background(), itemPath)
		return err == nil && status.Overall == want
	}, 3*time.Second, 10*time.Millisecond, "pipeline never reached %s", want)
	return status
}

func TestTaskTypeFor(t *testing.T) {
	assert.Equal(t, "digest.crawl", TaskTypeFor(StageCrawl))
	assert.Equal(t, "digest.slug", TaskTypeFor(StageSlug))
}

func TestPipelineRunsAllStages(t *testing.T) {
	p, fake, digests, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Start(ctx, "notes/a.md", "http://example.com/a"))

	status := waitForOverall(t, p, "notes/a.md", domain.DigestStatusCompleted)
	require.Len(t, status.Stages, 4)
	assert.True(t, status.CrawlDone)
	assert.True(t, status.SummaryReady)
	assert.False(t, status.HasFailures)

	// Each stage ran exactly once.
	assert.Equal(t, int32(1), fake.crawls.Load())
	assert.Equal(t, int32(1), fake.summaries.Load())
	assert.Equal(t, int32(1), fake.taggings.Load())
	assert.Equal(t, int32(1), fake.slugs.Load())

	// Stage outputs chain through persisted digests.
	crawl, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageCrawl)
	require.NoError(t, err)
	require.NotNil(t, crawl.Content)
	assert.Equal(t, "crawled content of http://example.com/a", *crawl.Content)
	assert.Equal(t, 1, crawl.Attempts)

	summary, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageSummary)
	require.NoError(t, err)
	require.NotNil(t, summary.Content)
	assert.Equal(t, "summary: "+*crawl.Content, *summary.Content)

	tagging, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageTagging)
	require.NoError(t, err)
	require.NotNil(t, tagging.Content)
	var tags []string
	require.NoError(t, json.Unmarshal([]byte(*tagging.Content), &tags))
	assert.Equal(t, []string{"alpha", "beta"}, tags)

	slug, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageSlug)
	require.NoError(t, err)
	require.NotNil(t, slug.Content)
	assert.Equal(t, "test-slug", *slug.Content)
}

func TestPipelineHaltsAtFailedStage(t *testing.T) {
	p, fake, digests, runtime := newTestPipeline(t)
	ctx := context.Background()

	fake.summaryErr = errors.New("model overloaded")

	require.NoError(t, p.Start(ctx, "notes/a.md", "http://example.com/a"))

	status := waitForOverall(t, p, "notes/a.md", domain.DigestStatusFailed)
	assert.True(t, status.HasFailures)
	assert.True(t, status.CanRetry)
	assert.True(t, status.CrawlDone)
	assert.False(t, status.SummaryReady)

	summary, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageSummary)
	require.NoError(t, err)
	assert.Equal(t, domain.DigestStatusFailed, summary.Status)
	require.NotNil(t, summary.Error)
	assert.Contains(t, *summary.Error, "model overloaded")
	assert.Equal(t, 1, summary.Attempts, "a failed run still counts as an attempt")

	// Later stages never run and their tasks are never enqueued.
	assert.Equal(t, int32(0), fake.taggings.Load())
	assert.Equal(t, int32(0), fake.slugs.Load())

	taggingTasks, err := runtime.Store().List(ctx, store.TaskFilter{Type: TaskTypeFor(StageTagging)})
	require.NoError(t, err)
	assert.Empty(t, taggingTasks)

	tagging, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageTagging)
	require.NoError(t, err)
	assert.Equal(t, domain.DigestStatusPending, tagging.Status)
}

func TestPipelineStartFromResumesWithoutEarlierStages(t *testing.T) {
	p, fake, digests, _ := newTestPipeline(t)
	ctx := context.Background()

	// A previous run already crawled the item.
	crawl, err := domain.NewDigest("notes/a.md", StageCrawl)
	require.NoError(t, err)
	crawl.Status = domain.DigestStatusCompleted
	content := "previously crawled text"
	crawl.Content = &content
	require.NoError(t, digests.Create(ctx, crawl))

	require.NoError(t, p.StartFrom(ctx, "notes/a.md", "", StageSummary))

	waitForOverall(t, p, "notes/a.md", domain.DigestStatusCompleted)

	assert.Equal(t, int32(0), fake.crawls.Load(), "resume must not re-crawl")
	assert.Equal(t, int32(1), fake.summaries.Load())

	summary, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageSummary)
	require.NoError(t, err)
	require.NotNil(t, summary.Content)
	assert.Equal(t, "summary: previously crawled text", *summary.Content)
}

func TestPipelineStartFromUnknownStage(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	err := p.StartFrom(context.Background(), "notes/a.md", "", "transmogrify")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestPipelineStartClearsPreviousRun(t *testing.T) {
	p, _, digests, _ := newTestPipeline(t)
	ctx := context.Background()

	// Leftovers from an older run, including a failed stage.
	stale, err := domain.NewDigest("notes/a.md", StageSummary)
	require.NoError(t, err)
	stale.Status = domain.DigestStatusFailed
	msg := "old failure"
	stale.Error = &msg
	require.NoError(t, digests.Create(ctx, stale))

	require.NoError(t, p.Start(ctx, "notes/a.md", "http://example.com/a"))

	waitForOverall(t, p, "notes/a.md", domain.DigestStatusCompleted)

	all, err := digests.ListByItem(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Len(t, all, 4, "restart replaces old digests instead of accumulating")

	summary, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageSummary)
	require.NoError(t, err)
	assert.Equal(t, domain.DigestStatusCompleted, summary.Status)
	assert.Nil(t, summary.Error)
}

func TestPipelineSkipsOrphanedStages(t *testing.T) {
	p, _, digests, _ := newTestPipeline(t)
	ctx := context.Background()

	// Digests from stages the pipeline no longer has.
	orphanFailed, err := domain.NewDigest("notes/a.md", "embedding")
	require.NoError(t, err)
	orphanFailed.Status = domain.DigestStatusFailed
	require.NoError(t, digests.Create(ctx, orphanFailed))

	orphanDone, err := domain.NewDigest("notes/a.md", "translation")
	require.NoError(t, err)
	orphanDone.Status = domain.DigestStatusCompleted
	require.NoError(t, digests.Create(ctx, orphanDone))

	require.NoError(t, p.StartFrom(ctx, "notes/a.md", "http://example.com/a", StageCrawl))

	waitForOverall(t, p, "notes/a.md", domain.DigestStatusCompleted)

	skipped, err := digests.GetByItemAndStage(ctx, "notes/a.md", "embedding")
	require.NoError(t, err)
	assert.Equal(t, domain.DigestStatusSkipped, skipped.Status)
	require.NotNil(t, skipped.Error)
	assert.Contains(t, *skipped.Error, "no longer registered")

	// Completed orphans keep their history.
	kept, err := digests.GetByItemAndStage(ctx, "notes/a.md", "translation")
	require.NoError(t, err)
	assert.Equal(t, domain.DigestStatusCompleted, kept.Status)
}

func TestPipelineHandlerRetryAfterFailure(t *testing.T) {
	p, fake, digests, runtime := newTestPipeline(t)
	ctx := context.Background()

	fake.crawlErr = fmt.Errorf("connection refused")

	require.NoError(t, p.Start(ctx, "notes/a.md", "http://example.com/a"))
	waitForOverall(t, p, "notes/a.md", domain.DigestStatusFailed)

	// The failed stage task carries a retry schedule.
	crawlTasks, err := runtime.Store().List(ctx, store.TaskFilter{Type: TaskTypeFor(StageCrawl)})
	require.NoError(t, err)
	require.Len(t, crawlTasks, 1)
	assert.Equal(t, domain.TaskStatusFailed, crawlTasks[0].Status)
	assert.NotNil(t, crawlTasks[0].RunAfter)

	failed, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageCrawl)
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempts)

	// Operator-triggered resume gets the chain moving again immediately.
	fake.crawlErr = nil
	require.NoError(t, p.StartFrom(ctx, "notes/a.md", "http://example.com/a", StageCrawl))
	waitForOverall(t, p, "notes/a.md", domain.DigestStatusCompleted)

	crawl, err := digests.GetByItemAndStage(ctx, "notes/a.md", StageCrawl)
	require.NoError(t, err)
	assert.Nil(t, crawl.Error)
	// Resume zeroed the counter before the re-run was counted.
	assert.Equal(t, 1, crawl.Attempts)
}
