package task

import (
	"context"
	"encoding/json"
	"errors"
)

// Handler executes one task. It receives the task's input payload and
// returns an output value that is serialized into the task's output column
// on success. Handlers may enqueue follow-up tasks as a side effect; the
// pipeline stage handlers chain themselves that way.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Errors reported by the executor.
var (
	// ErrAlreadyClaimed means another worker won the optimistic-locking
	// race for this task. This is a normal outcome, not a fault.
	ErrAlreadyClaimed = errors.New("task already claimed by another worker")

	// ErrNoHandler means no handler is registered for the task's type.
	// The task is permanently failed: a missing handler is a deployment
	// defect, not a transient condition.
	ErrNoHandler = errors.New("no handler registered for task type")

	// ErrMaxAttempts means the task has exhausted its attempt budget.
	ErrMaxAttempts = errors.New("max attempts reached")
)
