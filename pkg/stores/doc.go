// Package stores persists modctl state in SQLite.
//
// The database holds three kinds of records: the lifecycle state of each
// module (built flag, applied migration ids, all-migrations flag), a ledger
// of top-level operations, and an append-only log of applied changes. The
// schema is embedded and applied with golang-migrate.
//
// Module state writes happen in a single immediate transaction so that a
// crash never leaves a migration id recorded without its module row.
package stores
