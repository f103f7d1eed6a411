package engine

import (
	"context"
	"time"
)

// Discoverer produces the modules of a workspace together with their
// persisted state.
type Discoverer interface {
	// DiscoverModules returns the modules found under rootPath.
	DiscoverModules(ctx context.Context, rootPath string) ([]*Module, error)

	// DiscoverInternalModules returns modules declared by the workspace itself.
	DiscoverInternalModules(ctx context.Context, rootPath string) ([]*Module, error)
}

// StateSaver durably persists a module's state. A nil error means the state
// survives a crash of the current process.
type StateSaver interface {
	SaveState(ctx context.Context, module *Module) error
}

// ProcessManager owns service processes and command execution.
type ProcessManager interface {
	// StartAndWait starts the service unless it is already running and
	// returns once it is up or its health check passes.
	StartAndWait(ctx context.Context, ec *ExecutionContext, svc *Service, env map[string]string) error

	// StopAndWait stops the service and returns once the process is gone.
	StopAndWait(ctx context.Context, ec *ExecutionContext, svc *Service) error

	// FindServiceProcess reports the service process, with status unknown
	// when it was never observed.
	FindServiceProcess(ctx context.Context, ec *ExecutionContext, svc *Service) (ProcessInfo, error)

	// Run executes a command in the module directory and returns its output.
	Run(ctx context.Context, ec *ExecutionContext, module *Module, command string, env map[string]string) (string, error)

	// RunInteractive executes a command attached to the terminal.
	RunInteractive(ctx context.Context, ec *ExecutionContext, module *Module, command string, env map[string]string) error

	// OnShutdown releases resources held by the manager.
	OnShutdown(ctx context.Context) error
}

// RunRecord is the ledger entry for one top-level operation.
type RunRecord struct {
	ID          string     `json:"id"`
	Operation   Operation  `json:"operation"`
	Target      string     `json:"target"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// EffectRecord is the ledger entry for one applied staged change.
type EffectRecord struct {
	RunID     string        `json:"run_id"`
	Change    string        `json:"change"`
	Target    string        `json:"target"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Recorder keeps the history of operations and applied effects. Recording
// is best effort: the engine logs recorder failures and carries on.
type Recorder interface {
	BeginRun(ctx context.Context, run *RunRecord) error
	EndRun(ctx context.Context, run *RunRecord) error
	RecordEffect(ctx context.Context, effect *EffectRecord) error
}

// nopRecorder is used when no recorder is configured.
type nopRecorder struct{}

func (nopRecorder) BeginRun(context.Context, *RunRecord) error       { return nil }
func (nopRecorder) EndRun(context.Context, *RunRecord) error         { return nil }
func (nopRecorder) RecordEffect(context.Context, *EffectRecord) error { return nil }
