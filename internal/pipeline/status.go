package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/willow-notes/willow/internal/domain"
)

// StageStatus is one stage's entry in the per-item status view.
type StageStatus struct {
	Stage     string              `json:"stage"`
	Status    domain.DigestStatus `json:"status"`
	Error     *string             `json:"error,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Status is the per-item rollup the dashboard reads: every stage's digest
// plus derived booleans and an overall status.
type Status struct {
	ItemPath     string              `json:"item_path"`
	Stages       []StageStatus       `json:"stages"`
	CrawlDone    bool                `json:"crawl_done"`
	SummaryReady bool                `json:"summary_ready"`
	HasFailures  bool                `json:"has_failures"`
	CanRetry     bool                `json:"can_retry"`
	Overall      domain.DigestStatus `json:"overall"`
}

// Status aggregates the item's digests into the status view. Overall is
// failed if any stage failed, in-progress if any stage has started but the
// pipeline has not finished, completed only when every stage completed,
// and pending when nothing has started. Skipped stages count as finished.
func (p *Pipeline) Status(ctx context.Context, itemPath string) (*Status, error) {
	digests, err := p.digests.ListByItem(ctx, itemPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}

	byStage := make(map[string]*domain.Digest, len(digests))
	for _, d := range digests {
		byStage[d.Stage] = d
	}

	view := &Status{ItemPath: itemPath}

	started := false
	running := false
	allDone := len(digests) > 0

	for _, stage := range DefaultStages {
		d, ok := byStage[stage]
		if !ok {
			allDone = false
			continue
		}

		view.Stages = append(view.Stages, StageStatus{
			Stage:     stage,
			Status:    d.Status,
			Error:     d.Error,
			UpdatedAt: d.UpdatedAt,
		})

		switch d.Status {
		case domain.DigestStatusPending:
			allDone = false
		case domain.DigestStatusInProgress:
			started = true
			running = true
			allDone = false
		case domain.DigestStatusCompleted:
			started = true
		case domain.DigestStatusFailed:
			started = true
			view.HasFailures = true
			allDone = false
		case domain.DigestStatusSkipped:
			// finished, just not by running
		}
	}

	if crawl, ok := byStage[StageCrawl]; ok {
		view.CrawlDone = crawl.Status == domain.DigestStatusCompleted
	}
	if summary, ok := byStage[StageSummary]; ok {
		view.SummaryReady = summary.Status == domain.DigestStatusCompleted
	}
	view.CanRetry = view.HasFailures

	switch {
	case view.HasFailures:
		view.Overall = domain.DigestStatusFailed
	case allDone && started:
		view.Overall = domain.DigestStatusCompleted
	case running || started:
		view.Overall = domain.DigestStatusInProgress
	default:
		view.Overall = domain.DigestStatusPending
	}

	return view, nil
}
