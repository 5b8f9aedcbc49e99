// Package storage keeps a SQLite ledger of indexed repositories and their
// indexing runs.
//
// The vectors themselves live in the vector store; the ledger only records
// what was indexed, when, and how each run ended, so that history survives
// restarts.
//
// # Build Modes
//
// The default build uses the pure Go driver (modernc.org/sqlite). Building
// with the cgo_sqlite tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...
//
// DriverName and BuildMode report which one was compiled in.
//
// # Schema
//
// Migrations are versioned with semantic versions and applied in order by
// NewSQLiteStorage. RollbackMigration undoes the latest one.
//
//	repositories  one row per repository id, with its last run state
//	runs          one row per finished run, newest first by started_at
package storage
