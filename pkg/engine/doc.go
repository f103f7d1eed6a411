// Package engine is the core of modctl: it decides what has to happen for a
// service to be running and applies those steps in order.
//
// # Overview
//
// A workspace consists of modules. A module owns services and has a build
// and migration lifecycle of its own. Every top-level operation follows the
// same shape:
//
//  1. Discover - the Discoverer produces modules with their persisted state
//  2. Register - NewRegistry indexes modules and services by name
//  3. Stage - desired-state deltas are queued on an ExecutionContext
//  4. Apply - executeStaged drains the queue once, in insertion order
//
// # Staged Changes
//
// A StagedChange is one of three variants:
//
//   - BuildRequested: run the module's build action once
//   - MigrationsRequested: apply all pending migrations of the module
//   - ServiceStatusRequested: start or stop a service process
//
// Staging a start of a service also stages the build and migrations of its
// module, so effects apply build, migrate, start. StageStartWithDependencies
// walks declared dependencies depth first so prerequisites start before the
// services that need them. A dependency loop fails with CycleDetectedError.
//
// # Persistence
//
// Builds and migrations persist module state through the StateSaver as soon
// as they succeed, one write per migration. A failed operation can therefore
// be re-run: the pending migration list and the built flag are natural
// resumption points.
//
// # Runnables
//
// A Runnable is a shell command, an in-process callback or a sequence of
// runnables. Commands are delegated to the ProcessManager; callbacks run in
// the calling goroutine.
//
// # Values
//
// Services expose named values as "<service>.<provider>". Static values are
// returned without side effects; provider-backed values build the owning
// module first and capture the provider's output.
//
// # Usage
//
//	orch, err := engine.New(engine.Config{
//	    RootPath:  root,
//	    Discovery: ws,
//	    Saver:     ws,
//	    Processes: procs,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := orch.Start(ctx, "api"); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// An ExecutionContext and the registry it carries belong to one operation
// and are never shared. Effects are applied one at a time.
package engine
