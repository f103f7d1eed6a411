package engine

// Staging is pure and synchronous: it only appends to the queue of the
// execution context. Conditions are evaluated against the state at staging
// time; nothing is deduplicated.

// buildChange returns the change needed to build m, or nil when the module
// is already built or declares no build action.
func buildChange(m *Module) StagedChange {
	if m.State.Built || !m.HasBuild() {
		return nil
	}
	return &BuildRequested{Module: m}
}

// migrationsChange returns the change needed to migrate m, or nil when no
// migration is pending.
func migrationsChange(m *Module) StagedChange {
	if len(PendingMigrations(m)) == 0 {
		return nil
	}
	return &MigrationsRequested{Module: m}
}

// StageBuild queues a build of m when it is needed.
func (ec *ExecutionContext) StageBuild(m *Module) {
	if c := buildChange(m); c != nil {
		ec.push(c)
	}
}

// StageMigrations queues the pending migrations of m, if any.
func (ec *ExecutionContext) StageMigrations(m *Module) {
	if c := migrationsChange(m); c != nil {
		ec.push(c)
	}
}

// StageStart queues a start of svc, preceded by the build and migrations of
// its module so that effects apply build, migrate, start.
func (ec *ExecutionContext) StageStart(svc *Service) {
	ec.StageBuild(svc.Module)
	ec.StageMigrations(svc.Module)
	ec.push(&ServiceStatusRequested{Service: svc, Status: ProcessStatusOnline})
}

// StageStop queues a stop of svc.
func (ec *ExecutionContext) StageStop(svc *Service) {
	ec.push(&ServiceStatusRequested{Service: svc, Status: ProcessStatusOffline})
}
