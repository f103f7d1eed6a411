// Package config loads the modctl workspace configuration and module
// manifests.
//
// # Workspace
//
// modctl.yaml at the workspace root is optional. It sets the state database
// location, the run directory, telemetry, health check defaults, discovery
// ignores, and declares internal modules inline. A missing file yields
// DefaultWorkspace. The LOG_LEVEL environment variable overrides the
// configured log level.
//
// # Manifests
//
// Every directory containing module.yaml or module.cue declares one module.
// Both formats share one shape; CUE manifests are unified with the built-in
// #Module schema and exported to JSON before decoding, so validation and
// conversion happen in a single place.
//
// A runnable is written as a command string, a list of runnables executed in
// order, or a mapping with exactly one of run, steps or script:
//
//	build: go build ./...
//	runnables:
//	  seed: ["./bin/api seed", "./bin/api reindex"]
//	value_providers:
//	  dsn:
//	    script: |
//	      output = "postgres://localhost:%s/app" % getenv("PGPORT", "5432")
//
// Script runnables execute in-process in a Starlark thread. The script sees a
// "module" struct (name, dir, env), getenv and read_file, and returns its
// result through the "output" global.
//
// # Watching
//
// Watcher reports manifest changes with fsnotify, coalescing bursts of
// events. It backs "modctl list --watch".
package config
