package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/stores"
	"github.com/modctl/modctl/pkg/telemetry"
)

// DiscoverModules loads every module manifest under root, sorted by module
// name, with persisted state attached.
func (w *Workspace) DiscoverModules(ctx context.Context, root string) ([]*engine.Module, error) {
	logger := w.contextLogger(ctx)

	paths, err := w.loader.FindManifests(root)
	if err != nil {
		return nil, err
	}

	modules := make([]*engine.Module, 0, len(paths))
	for _, path := range paths {
		manifest, err := w.loader.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		module := w.loader.ToModule(manifest, filepath.Dir(path), false)
		if err := w.attachState(ctx, module); err != nil {
			return nil, err
		}
		logger.WithModule(module.Name).WithField("manifest", path).Debug("Discovered module")
		modules = append(modules, module)
	}

	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Name < modules[j].Name
	})

	return modules, nil
}

// DiscoverInternalModules returns the modules declared inline in the
// workspace configuration. Their runnables execute in root.
func (w *Workspace) DiscoverInternalModules(ctx context.Context, root string) ([]*engine.Module, error) {
	modules := make([]*engine.Module, 0, len(w.Config.Modules))
	for i := range w.Config.Modules {
		module := w.loader.ToModule(&w.Config.Modules[i], root, true)
		if err := w.attachState(ctx, module); err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// attachState loads the persisted state of module. Migration ids no longer
// declared by the module are dropped, and a migration declared since the last
// save clears the ran-all flag.
func (w *Workspace) attachState(ctx context.Context, module *engine.Module) error {
	state, err := w.Store.GetModuleState(ctx, module.Name)
	if errors.Is(err, stores.ErrNotFound) {
		module.State = engine.ModuleState{}
		return nil
	}
	if err != nil {
		return engine.NewEngineError(engine.ErrCodePersistence, "failed to load module state", err).
			WithTarget(module.Name)
	}

	module.State = engine.ModuleState{
		Built:            state.Built,
		RanAllMigrations: state.RanAllMigrations,
		UpdatedAt:        state.UpdatedAt,
	}
	for _, id := range state.RanMigrations {
		if _, declared := module.Spec.Migrations[id]; !declared {
			w.contextLogger(ctx).WithModule(module.Name).WithField("migration", id).
				Debug("Ignoring applied migration that is no longer declared")
			continue
		}
		module.State.MarkRun(id)
	}
	module.State.RanAllMigrations = state.RanAllMigrations && len(engine.PendingMigrations(module)) == 0
	return nil
}

// SaveState persists the state of module in one transaction.
func (w *Workspace) SaveState(ctx context.Context, module *engine.Module) error {
	state := &stores.ModuleState{
		Module:           module.Name,
		Built:            module.State.Built,
		RanAllMigrations: module.State.RanAllMigrations,
		RanMigrations:    append([]string(nil), module.State.RanMigrations...),
	}
	if err := w.Store.SaveModuleState(ctx, state); err != nil {
		return fmt.Errorf("failed to save state of module %s: %w", module.Name, err)
	}
	module.State.UpdatedAt = state.UpdatedAt
	return nil
}

// ResetBuild clears the built flag of a module so its next start rebuilds.
func (w *Workspace) ResetBuild(ctx context.Context, module string) error {
	if err := engine.ValidateName("module", module); err != nil {
		return err
	}
	err := w.Store.ResetModuleState(ctx, module)
	if errors.Is(err, stores.ErrNotFound) {
		// Never saved, so never built.
		return nil
	}
	return err
}

// ResetAllBuilds clears the built flag of every module with saved state and
// returns the names of the modules that were built, in name order.
func (w *Workspace) ResetAllBuilds(ctx context.Context) ([]string, error) {
	states, err := w.Store.ListModuleStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list module states: %w", err)
	}
	var reset []string
	for _, state := range states {
		if !state.Built {
			continue
		}
		if err := w.Store.ResetModuleState(ctx, state.Module); err != nil {
			return reset, fmt.Errorf("failed to reset module %s: %w", state.Module, err)
		}
		reset = append(reset, state.Module)
	}
	return reset, nil
}

func (w *Workspace) contextLogger(ctx context.Context) *telemetry.Logger {
	if l, ok := telemetry.LoggerFromContext(ctx); ok {
		return l.NewComponentLogger("workspace")
	}
	return w.logger
}

var _ engine.Discoverer = (*Workspace)(nil)
var _ engine.StateSaver = (*Workspace)(nil)
