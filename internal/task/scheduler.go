package task

import (
	"context"
	"math/rand"
	"time"

	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

// Retry backoff parameters: 10s doubling per attempt, capped at 160s,
// then perturbed by a uniform ±30% jitter so a burst of simultaneous
// failures does not retry in lockstep.
const (
	backoffBase    = 10 * time.Second
	backoffMax     = 160 * time.Second
	jitterFraction = 0.3
)

// Scheduler answers the worker's two questions, which tasks are ready and
// which are stale, plus the backoff calculation for retries. It only
// reads from the store; all writes belong to the executor.
type Scheduler struct {
	tasks store.TaskStore
}

// NewScheduler creates a scheduler over the given task store.
func NewScheduler(tasks store.TaskStore) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// ReadyTasks returns up to limit tasks eligible to run right now, oldest
// first. Tasks that have failed maxAttempts times are excluded: they stay
// queryable for diagnostics but are never re-claimed.
func (s *Scheduler) ReadyTasks(ctx context.Context, limit, maxAttempts int) ([]*domain.Task, error) {
	return s.tasks.Ready(ctx, limit, maxAttempts)
}

// StaleTasks returns in-progress tasks whose last attempt started longer
// than timeout ago: work a worker claimed but never finished, most likely
// because the process died mid-execution.
func (s *Scheduler) StaleTasks(ctx context.Context, timeout time.Duration) ([]*domain.Task, error) {
	return s.tasks.Stale(ctx, timeout)
}

// RetryDelay computes the backoff before the given attempt number is
// retried: base * 2^(attempts-1), capped, jittered. Attempt 1 ≈ 10s,
// 2 ≈ 20s, 3 ≈ 40s, 4 ≈ 80s, 5+ ≈ 160s, each ±30%.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := backoffBase
	for i := 1; i < attempts && delay < backoffMax; i++ {
		delay *= 2
	}
	if delay > backoffMax {
		delay = backoffMax
	}

	jitter := 1 + (rand.Float64()*2-1)*jitterFraction
	return time.Duration(float64(delay) * jitter)
}
