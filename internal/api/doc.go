// Package api contains the HTTP handlers for the status/read boundary of
// the queue subsystem: task lookups, queue statistics, maintenance
// operations, and the per-item digest status view. External callers only
// observe task and digest rows through these handlers; they never mutate
// them directly.
package api
