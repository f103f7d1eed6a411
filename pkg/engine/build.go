package engine

import (
	"context"

	"github.com/modctl/modctl/pkg/telemetry"
)

// BuildOrchestrator runs a module's build action at most once.
type BuildOrchestrator struct {
	exec  *RunnableExecutor
	saver StateSaver
}

// NewBuildOrchestrator creates a build orchestrator running builds through
// exec.
func NewBuildOrchestrator(exec *RunnableExecutor, saver StateSaver) *BuildOrchestrator {
	return &BuildOrchestrator{exec: exec, saver: saver}
}

// Build executes the build action of m and marks it built. A module that is
// already built is left alone; only an external reset of State.Built
// forces a rebuild.
func (b *BuildOrchestrator) Build(ctx context.Context, ec *ExecutionContext, m *Module) error {
	if !m.HasBuild() {
		return &NoBuildActionError{Module: m.Name}
	}
	if m.State.Built {
		return nil
	}

	logger := telemetry.FromContext(ctx).WithModule(m.Name)
	metrics := telemetry.MetricsFromContext(ctx)

	logger.Info("building module")
	if err := b.exec.Run(ctx, ec, m, *m.Spec.Build, moduleEnv(m, ec.Options.Env)); err != nil {
		metrics.RecordBuild(m.Name, "failed")
		return err
	}

	m.State.Built = true
	if err := b.saver.SaveState(ctx, m); err != nil {
		return NewEngineError(ErrCodePersistence, "failed to persist build state", err).
			WithTarget(m.Name)
	}

	metrics.RecordBuild(m.Name, "succeeded")
	return nil
}
