// Package sqlite provides the embedded-database implementations of the
// store interfaces, built on modernc.org/sqlite through database/sql.
// One SQLite file is the single coordination point for the whole queue:
// every mutation is a single-row conditional statement, so the database's
// own locking provides cross-process atomicity.
package sqlite
