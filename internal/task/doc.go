// Package task manages background job queuing, processing, and lifecycle.
// It provides the durable queue core: a handler registry, a scheduler that
// decides which tasks are ready or stale, an executor that claims tasks via
// optimistic locking and finalizes their outcome, and a polling worker that
// drives both. Correctness under concurrent pollers rests entirely on the
// task store's conditional version-checked update.
package task
