package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
	"github.com/willow-notes/willow/internal/task"
)

// Pipeline stage names, in execution order.
const (
	StageCrawl   = "crawl"
	StageSummary = "summary"
	StageTagging = "tagging"
	StageSlug    = "slug"
)

// taskTypePrefix namespaces the pipeline's task types in the queue.
const taskTypePrefix = "digest."

// DefaultStages is the ordered stage list a full pipeline run walks through.
var DefaultStages = []string{StageCrawl, StageSummary, StageTagging, StageSlug}

// ErrUnknownStage is returned when a caller names a stage that is not part
// of the pipeline.
var ErrUnknownStage = errors.New("unknown pipeline stage")

// TaskTypeFor returns the queue task type for a stage name.
func TaskTypeFor(stage string) string {
	return taskTypePrefix + stage
}

// stageInput is the payload threaded through the chain. RemainingStages is
// the tail still to run after this stage; each handler pops the head and
// enqueues it on success.
type stageInput struct {
	ItemPath        string   `json:"itemPath"`
	URL             string   `json:"url,omitempty"`
	RemainingStages []string `json:"remainingStages,omitempty"`
}

// stageFunc produces one stage's content from its input, reading earlier
// stages' persisted digests as needed.
type stageFunc func(ctx context.Context, in stageInput) (string, error)

// Pipeline owns the digest bookkeeping and the stage handlers.
type Pipeline struct {
	runtime *task.Runtime
	digests store.DigestStore
	enrich  Enrichers
	logger  *slog.Logger
}

// New creates a pipeline over the given queue runtime and digest store.
func New(runtime *task.Runtime, digests store.DigestStore, enrich Enrichers, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		runtime: runtime,
		digests: digests,
		enrich:  enrich,
		logger:  logger,
	}
}

// RegisterHandlers attaches every stage's handler to the queue runtime.
// Safe to call repeatedly; registration is idempotent.
func (p *Pipeline) RegisterHandlers() {
	p.runtime.DefineHandler(TaskTypeFor(StageCrawl), p.handler(StageCrawl, p.runCrawl))
	p.runtime.DefineHandler(TaskTypeFor(StageSummary), p.handler(StageSummary, p.runSummary))
	p.runtime.DefineHandler(TaskTypeFor(StageTagging), p.handler(StageTagging, p.runTagging))
	p.runtime.DefineHandler(TaskTypeFor(StageSlug), p.handler(StageSlug, p.runSlug))
}

// TaskTypes returns the queue task types of every stage.
func (p *Pipeline) TaskTypes() []string {
	types := make([]string, len(DefaultStages))
	for i, stage := range DefaultStages {
		types[i] = TaskTypeFor(stage)
	}
	return types
}

// Start begins a pipeline run from scratch for an item: previously stored
// digests are cleared first to avoid stale mixed-version state, fresh
// pending records are created for every stage, and the first stage is
// enqueued carrying the rest of the chain.
func (p *Pipeline) Start(ctx context.Context, itemPath, url string) error {
	deleted, err := p.digests.DeleteByItem(ctx, itemPath)
	if err != nil {
		return fmt.Errorf("failed to clear previous digests: %w", err)
	}
	if deleted > 0 {
		p.logger.Info("cleared previous digests", "item_path", itemPath, "count", deleted)
	}

	for _, stage := range DefaultStages {
		digest, err := domain.NewDigest(itemPath, stage)
		if err != nil {
			return fmt.Errorf("failed to build digest record: %w", err)
		}
		if err := p.digests.Create(ctx, digest); err != nil {
			return fmt.Errorf("failed to create digest record: %w", err)
		}
	}

	return p.enqueueStage(ctx, stageInput{
		ItemPath:        itemPath,
		URL:             url,
		RemainingStages: DefaultStages[1:],
	}, DefaultStages[0])
}

// StartFrom resumes a pipeline at the given stage without re-running
// earlier stages; the stage re-derives its inputs from earlier stages'
// persisted digests. The target stage and everything after it are reset
// to pending, and stages no longer in the pipeline are marked skipped
// rather than silently carried along.
func (p *Pipeline) StartFrom(ctx context.Context, itemPath, url, stage string) error {
	idx := stageIndex(stage)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	if err := p.markOrphanedStages(ctx, itemPath); err != nil {
		return err
	}

	for _, s := range DefaultStages[idx:] {
		if err := p.resetStage(ctx, itemPath, s); err != nil {
			return err
		}
	}

	return p.enqueueStage(ctx, stageInput{
		ItemPath:        itemPath,
		URL:             url,
		RemainingStages: DefaultStages[idx+1:],
	}, stage)
}

// enqueueStage submits one stage's task and makes sure a consumer exists.
func (p *Pipeline) enqueueStage(ctx context.Context, in stageInput, stage string) error {
	taskID, err := p.runtime.Enqueue(ctx, TaskTypeFor(stage), in, nil)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s stage: %w", stage, err)
	}

	if err := p.runtime.EnsureReady(p.TaskTypes()...); err != nil {
		return fmt.Errorf("queue runtime not ready: %w", err)
	}

	p.logger.Debug("pipeline stage enqueued",
		"item_path", in.ItemPath,
		"stage", stage,
		"task_id", taskID,
		"remaining", len(in.RemainingStages))
	return nil
}

// handler wraps a stageFunc with the digest bookkeeping every stage
// shares: in-progress on entry, completed or failed on exit, and chain
// propagation on success. A stage failure returns the error to the queue,
// which retries the stage task; later stages are never enqueued until it
// succeeds.
func (p *Pipeline) handler(stage string, run stageFunc) task.Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in stageInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("invalid %s stage input: %w", stage, err)
		}
		if in.ItemPath == "" {
			return nil, fmt.Errorf("%s stage input missing itemPath", stage)
		}

		if err := p.markInProgress(ctx, in.ItemPath, stage); err != nil {
			return nil, err
		}

		content, err := run(ctx, in)
		if err != nil {
			p.markFailed(ctx, in.ItemPath, stage, err)
			return nil, err
		}

		if err := p.markCompleted(ctx, in.ItemPath, stage, content); err != nil {
			return nil, err
		}

		if len(in.RemainingStages) > 0 {
			next := in.RemainingStages[0]
			tail := in.RemainingStages[1:]
			if err := p.enqueueStage(ctx, stageInput{
				ItemPath:        in.ItemPath,
				URL:             in.URL,
				RemainingStages: tail,
			}, next); err != nil {
				return nil, err
			}
		}

		return map[string]any{"stage": stage, "itemPath": in.ItemPath}, nil
	}
}

// runCrawl fetches the item's source content.
func (p *Pipeline) runCrawl(ctx context.Context, in stageInput) (string, error) {
	url := in.URL
	if url == "" {
		url = in.ItemPath
	}

	content, err := p.enrich.Crawler.Crawl(ctx, url)
	if err != nil {
		return "", fmt.Errorf("crawl failed: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("crawl produced no content")
	}
	return content, nil
}

// runSummary summarizes the crawl stage's persisted content.
func (p *Pipeline) runSummary(ctx context.Context, in stageInput) (string, error) {
	content, err := p.stageContent(ctx, in.ItemPath, StageCrawl)
	if err != nil {
		return "", err
	}

	summary, err := p.enrich.Summarizer.Summarize(ctx, content)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return summary, nil
}

// runTagging tags the crawl stage's persisted content and stores the tags
// as a JSON array.
func (p *Pipeline) runTagging(ctx context.Context, in stageInput) (string, error) {
	content, err := p.stageContent(ctx, in.ItemPath, StageCrawl)
	if err != nil {
		return "", err
	}

	tags, err := p.enrich.Tagger.Tag(ctx, content)
	if err != nil {
		return "", fmt.Errorf("tagging failed: %w", err)
	}

	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(encoded), nil
}

// runSlug derives a slug from the summary, falling back to the crawl
// content when no summary exists yet.
func (p *Pipeline) runSlug(ctx context.Context, in stageInput) (string, error) {
	content, err := p.stageContent(ctx, in.ItemPath, StageSummary)
	if err != nil {
		content, err = p.stageContent(ctx, in.ItemPath, StageCrawl)
		if err != nil {
			return "", err
		}
	}

	slug, err := p.enrich.Slugger.Slug(ctx, content)
	if err != nil {
		return "", fmt.Errorf("slug generation failed: %w", err)
	}
	return slug, nil
}

// stageContent reads an earlier stage's completed content. Retrying a
// later stage re-derives its inputs here instead of re-running the chain.
func (p *Pipeline) stageContent(ctx context.Context, itemPath, stage string) (string, error) {
	digest, err := p.digests.GetByItemAndStage(ctx, itemPath, stage)
	if err != nil {
		return "", fmt.Errorf("failed to load %s digest: %w", stage, err)
	}
	if digest.Status != domain.DigestStatusCompleted || digest.Content == nil || *digest.Content == "" {
		return "", fmt.Errorf("%s content not available (status %s)", stage, digest.Status)
	}
	return *digest.Content, nil
}

// markInProgress transitions a stage's digest to in-progress and counts the
// attempt, creating the record if a direct task enqueue skipped Start.
func (p *Pipeline) markInProgress(ctx context.Context, itemPath, stage string) error {
	existing, err := p.digests.GetByItemAndStage(ctx, itemPath, stage)
	if errors.Is(err, store.ErrDigestNotFound) {
		digest, derr := domain.NewDigest(itemPath, stage)
		if derr != nil {
			return derr
		}
		digest.Status = domain.DigestStatusInProgress
		digest.Attempts = 1
		return p.digests.Create(ctx, digest)
	}
	if err != nil {
		return err
	}

	inProgress := domain.DigestStatusInProgress
	attempts := existing.Attempts + 1
	return p.digests.Update(ctx, itemPath, stage, store.DigestUpdate{
		Status:     &inProgress,
		Attempts:   &attempts,
		ClearError: true,
	})
}

// markCompleted records a stage's content.
func (p *Pipeline) markCompleted(ctx context.Context, itemPath, stage, content string) error {
	completed := domain.DigestStatusCompleted
	return p.digests.Update(ctx, itemPath, stage, store.DigestUpdate{
		Status:     &completed,
		Content:    &content,
		ClearError: true,
	})
}

// markFailed records a stage failure; the error is best-effort visible on
// the digest even if the bookkeeping write itself fails.
func (p *Pipeline) markFailed(ctx context.Context, itemPath, stage string, cause error) {
	failed := domain.DigestStatusFailed
	msg := cause.Error()
	if err := p.digests.Update(ctx, itemPath, stage, store.DigestUpdate{
		Status: &failed,
		Error:  &msg,
	}); err != nil {
		p.logger.Error("failed to record stage failure",
			"item_path", itemPath,
			"stage", stage,
			"error", err)
	}
}

// resetStage returns a stage's digest to pending with cleared output,
// creating the record if it never existed.
func (p *Pipeline) resetStage(ctx context.Context, itemPath, stage string) error {
	pending := domain.DigestStatusPending
	zero := 0
	err := p.digests.Update(ctx, itemPath, stage, store.DigestUpdate{
		Status:       &pending,
		ClearContent: true,
		ClearError:   true,
		Attempts:     &zero,
	})
	if errors.Is(err, store.ErrDigestNotFound) {
		digest, derr := domain.NewDigest(itemPath, stage)
		if derr != nil {
			return derr
		}
		return p.digests.Create(ctx, digest)
	}
	if err != nil {
		return fmt.Errorf("failed to reset %s stage: %w", stage, err)
	}
	return nil
}

// markOrphanedStages flags digests whose stage is no longer part of the
// pipeline as skipped, instead of deleting history mid-run.
func (p *Pipeline) markOrphanedStages(ctx context.Context, itemPath string) error {
	existing, err := p.digests.ListByItem(ctx, itemPath)
	if err != nil {
		return fmt.Errorf("failed to list digests: %w", err)
	}

	for _, digest := range existing {
		if stageIndex(digest.Stage) >= 0 {
			continue
		}
		if digest.Status != domain.DigestStatusPending && digest.Status != domain.DigestStatusFailed {
			continue
		}

		skipped := domain.DigestStatusSkipped
		msg := "stage no longer registered"
		if err := p.digests.Update(ctx, itemPath, digest.Stage, store.DigestUpdate{
			Status: &skipped,
			Error:  &msg,
		}); err != nil {
			return fmt.Errorf("failed to skip orphaned stage %s: %w", digest.Stage, err)
		}
		p.logger.Info("marked orphaned stage skipped",
			"item_path", itemPath,
			"stage", digest.Stage)
	}

	return nil
}

// stageIndex returns a stage's position in DefaultStages, or -1.
func stageIndex(stage string) int {
	for i, s := range DefaultStages {
		if s == stage {
			return i
		}
	}
	return -1
}
