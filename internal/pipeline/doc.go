// Package pipeline drives the per-item enrichment chain on top of the
// task queue: crawl → summary → tagging → slug. Each stage is its own task
// type; a completing stage enqueues the next one by popping the head of
// the remainingStages list carried in its input, so the chain propagates
// itself without a central orchestrator. Stage outcomes are recorded as
// digest rows, which later stages read instead of re-running earlier work.
package pipeline
