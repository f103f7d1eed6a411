package engine

import (
	"context"
	"sort"

	"github.com/modctl/modctl/pkg/telemetry"
)

// PendingMigrations returns the declared migration ids of m that were not
// applied yet, sorted lexicographically.
func PendingMigrations(m *Module) []string {
	pending := make([]string, 0, len(m.Spec.Migrations))
	for id := range m.Spec.Migrations {
		if !m.State.HasRun(id) {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending
}

// MigrationTracker applies pending migrations one at a time and persists
// progress after each of them.
type MigrationTracker struct {
	exec  *RunnableExecutor
	saver StateSaver
}

// NewMigrationTracker creates a tracker running migrations through exec.
func NewMigrationTracker(exec *RunnableExecutor, saver StateSaver) *MigrationTracker {
	return &MigrationTracker{exec: exec, saver: saver}
}

// Apply runs every pending migration of m in sorted order. Each successful
// migration is persisted before the next one starts; the first failure
// stops the batch with a MigrationFailedError. RanAllMigrations is only set
// once the whole batch succeeded. Nothing happens when no migration is
// pending.
func (t *MigrationTracker) Apply(ctx context.Context, ec *ExecutionContext, m *Module) error {
	pending := PendingMigrations(m)
	if len(pending) == 0 {
		return nil
	}

	logger := telemetry.FromContext(ctx).WithModule(m.Name)
	metrics := telemetry.MetricsFromContext(ctx)

	env := moduleEnv(m, ec.Options.Env)
	for _, id := range pending {
		logger.WithField("migration", id).Info("applying migration")

		if err := t.exec.Run(ctx, ec, m, m.Spec.Migrations[id], env); err != nil {
			metrics.RecordMigration(m.Name, "failed")
			return &MigrationFailedError{Module: m.Name, MigrationID: id, Err: err}
		}

		m.State.MarkRun(id)
		if err := t.saver.SaveState(ctx, m); err != nil {
			return NewEngineError(ErrCodePersistence, "failed to persist migration "+id, err).
				WithTarget(m.Name)
		}
		metrics.RecordMigration(m.Name, "succeeded")
	}

	m.State.RanAllMigrations = true
	if err := t.saver.SaveState(ctx, m); err != nil {
		return NewEngineError(ErrCodePersistence, "failed to persist migration state", err).
			WithTarget(m.Name)
	}

	logger.Infof("applied %d migration(s)", len(pending))
	return nil
}
