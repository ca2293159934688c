// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the queue's core logic, allowing scheduling and execution rules to
// remain independent of the embedded database behind them.
package store
