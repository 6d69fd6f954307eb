// Package engine owns the process-wide handle to the embedded engine
// database.
//
// The database is SQLite, opened lazily by EnsureDatabase with a single
// connection so that TEMP tables created by scans stay visible to every
// later statement. The engine catalog (pgrn_sources, pgrn_columns, pgrn_wal)
// is created by semver-gated migrations.
//
// Two drivers are supported:
//
//   - modernc.org/sqlite, the default pure-Go build
//   - github.com/mattn/go-sqlite3, selected with -tags "sqlite_cgo sqlite_fts5"
//
// Both register the custom SQL functions regexp, pgrn_prefix,
// pgrn_prefix_rk and pgrn_prefix_in on every connection.
//
// Shutdown goes through Finalize, which runs the registered finalizers once
// in stage order and closes the database in the Database stage.
package engine
