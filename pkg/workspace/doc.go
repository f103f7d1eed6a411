// Package workspace binds a project root to its configuration, manifests and
// state database.
//
// A Workspace implements the engine's Discoverer and StateSaver: modules are
// read from manifests on disk (and from the inline modules of modctl.yaml)
// and joined with the state persisted in SQLite. Recorder adapts the store's
// run ledger and event log to the engine's Recorder interface.
package workspace
