package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/modctl/modctl/pkg/telemetry"
)

// Config wires the collaborators of an Orchestrator.
type Config struct {
	// RootPath is the project root modules are discovered under.
	RootPath string `validate:"required"`

	// Discovery produces modules and their persisted state.
	Discovery Discoverer `validate:"required"`

	// Saver persists module state after every build and migration.
	Saver StateSaver `validate:"required"`

	// Processes starts and stops services and executes commands.
	Processes ProcessManager `validate:"required"`

	// Recorder keeps the run ledger. Optional.
	Recorder Recorder

	// Telemetry is attached to the context of every operation. Optional.
	Telemetry *telemetry.Telemetry

	// Options are applied to every execution context.
	Options Options
}

// Orchestrator exposes the top-level operations. Every operation discovers
// a fresh registry, builds one ExecutionContext, stages its changes and
// applies them with a single executeStaged call.
type Orchestrator struct {
	rootPath   string
	discovery  Discoverer
	saver      StateSaver
	procs      ProcessManager
	recorder   Recorder
	tel        *telemetry.Telemetry
	opts       Options
	exec       *RunnableExecutor
	builds     *BuildOrchestrator
	migrations *MigrationTracker
}

// New creates an orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if err := sharedValidator().Struct(cfg); err != nil {
		return nil, NewEngineError(ErrCodeValidation, "invalid orchestrator config", err)
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	exec := NewRunnableExecutor(cfg.Processes)
	return &Orchestrator{
		rootPath:   cfg.RootPath,
		discovery:  cfg.Discovery,
		saver:      cfg.Saver,
		procs:      cfg.Processes,
		recorder:   recorder,
		tel:        cfg.Telemetry,
		opts:       cfg.Options,
		exec:       exec,
		builds:     NewBuildOrchestrator(exec, cfg.Saver),
		migrations: NewMigrationTracker(exec, cfg.Saver),
	}, nil
}

// LoadRegistry discovers all modules, internal ones first.
func (o *Orchestrator) LoadRegistry(ctx context.Context) (*Registry, error) {
	internal, err := o.discovery.DiscoverInternalModules(ctx, o.rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to discover internal modules: %w", err)
	}
	modules, err := o.discovery.DiscoverModules(ctx, o.rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to discover modules: %w", err)
	}
	return NewRegistry(append(internal, modules...))
}

// step is one phase of a top-level operation.
type step func(ctx context.Context, ec *ExecutionContext) error

// execute runs one top-level operation: discovery, staging by stage, one
// executeStaged call, then the optional after step, with the run ledger
// entry around all of it.
func (o *Orchestrator) execute(ctx context.Context, op Operation, target string, stage, after step) error {
	if o.tel != nil {
		ctx = o.tel.WithContext(ctx)
	}

	registry, err := o.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	ec := NewExecutionContext(o.rootPath, registry, o.opts)

	s := telemetry.StartExecution(ctx, ec.ID, string(op), target)
	run := &RunRecord{
		ID:        ec.ID,
		Operation: op,
		Target:    target,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if rerr := o.recorder.BeginRun(s.Ctx, run); rerr != nil {
		s.Logger.WithError(rerr).Warn("failed to record run start")
	}

	err = stage(s.Ctx, ec)
	if err == nil {
		s.Logger.Debugf("staged %d change(s)", ec.Len())
		err = o.executeStaged(s.Ctx, ec)
	}
	if err == nil && after != nil {
		err = after(s.Ctx, ec)
	}

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = RunStatusSucceeded
	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) && ee.Operation == "" {
			ee.WithOperation(string(op))
		}
		run.Status = RunStatusFailed
		run.Error = err.Error()
		telemetry.MetricsFromContext(s.Ctx).RecordError(ErrorCode(err))
		s.Logger.WithError(err).Error(string(op) + " failed")
	}
	if rerr := o.recorder.EndRun(s.Ctx, run); rerr != nil {
		s.Logger.WithError(rerr).Warn("failed to record run end")
	}
	s.End(err)

	return err
}

// Start starts serviceName after all its transitive dependencies. Each
// service is preceded by the build and pending migrations of its module.
func (o *Orchestrator) Start(ctx context.Context, serviceName string) error {
	if err := ValidateName("service name", serviceName); err != nil {
		return err
	}
	return o.execute(ctx, OperationStart, serviceName, func(ctx context.Context, ec *ExecutionContext) error {
		_, svc, err := ec.Registry.FindService(serviceName)
		if err != nil {
			return err
		}
		return ec.StageStartWithDependencies(svc)
	}, nil)
}

// Plan stages a start of serviceName like Start does and returns the
// description of every staged change without applying any.
func (o *Orchestrator) Plan(ctx context.Context, serviceName string) ([]string, error) {
	if err := ValidateName("service name", serviceName); err != nil {
		return nil, err
	}
	registry, err := o.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	_, svc, err := registry.FindService(serviceName)
	if err != nil {
		return nil, err
	}

	ec := NewExecutionContext(o.rootPath, registry, Options{DryRun: true})
	if err := ec.StageStartWithDependencies(svc); err != nil {
		return nil, err
	}

	staged := ec.Staged()
	plan := make([]string, 0, len(staged))
	for _, c := range staged {
		plan = append(plan, c.String())
	}
	return plan, nil
}

// Stop stops serviceName. Dependents and dependencies are left running.
func (o *Orchestrator) Stop(ctx context.Context, serviceName string) error {
	if err := ValidateName("service name", serviceName); err != nil {
		return err
	}
	return o.execute(ctx, OperationStop, serviceName, func(ctx context.Context, ec *ExecutionContext) error {
		_, svc, err := ec.Registry.FindService(serviceName)
		if err != nil {
			return err
		}
		ec.StageStop(svc)
		return nil
	}, nil)
}

// Build builds the module owning serviceName unless it is already built.
func (o *Orchestrator) Build(ctx context.Context, serviceName string) error {
	if err := ValidateName("service name", serviceName); err != nil {
		return err
	}
	return o.execute(ctx, OperationBuild, serviceName, func(ctx context.Context, ec *ExecutionContext) error {
		module, _, err := ec.Registry.FindService(serviceName)
		if err != nil {
			return err
		}
		if !module.HasBuild() {
			return &NoBuildActionError{Module: module.Name}
		}
		ec.StageBuild(module)
		return nil
	}, nil)
}

// Migrate applies the pending migrations of the module owning serviceName.
func (o *Orchestrator) Migrate(ctx context.Context, serviceName string) error {
	if err := ValidateName("service name", serviceName); err != nil {
		return err
	}
	return o.execute(ctx, OperationMigrate, serviceName, func(ctx context.Context, ec *ExecutionContext) error {
		module, _, err := ec.Registry.FindService(serviceName)
		if err != nil {
			return err
		}
		ec.StageMigrations(module)
		return nil
	}, nil)
}

// Value resolves one "<service>.<provider>" identifier.
func (o *Orchestrator) Value(ctx context.Context, identifier string) (string, error) {
	if _, _, err := ParseValueIdentifier(identifier); err != nil {
		return "", &ValueResolutionError{Identifier: identifier, Err: err}
	}
	var value string
	err := o.execute(ctx, OperationValue, identifier, func(ctx context.Context, ec *ExecutionContext) error {
		v, err := o.resolveValue(ctx, ec, identifier)
		value = v
		return err
	}, nil)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Values resolves every identifier of refs, keyed by the same names.
func (o *Orchestrator) Values(ctx context.Context, refs map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(refs))
	for name, id := range refs {
		if _, _, err := ParseValueIdentifier(id); err != nil {
			return nil, &ValueResolutionError{Identifier: id, Err: err}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var values map[string]string
	err := o.execute(ctx, OperationValue, fmt.Sprint(names), func(ctx context.Context, ec *ExecutionContext) error {
		v, err := o.resolveAll(ctx, ec, refs)
		values = v
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return values, nil
}

// List reports every service with the status observed by the process
// manager, grouped by module in discovery order.
func (o *Orchestrator) List(ctx context.Context) ([]StatusLine, error) {
	var lines []StatusLine
	err := o.execute(ctx, OperationList, "", func(ctx context.Context, ec *ExecutionContext) error {
		metrics := telemetry.MetricsFromContext(ctx)
		for _, svc := range ec.Registry.Services() {
			info, err := o.procs.FindServiceProcess(ctx, ec, svc)
			if err != nil {
				return fmt.Errorf("failed to inspect service %s: %w", svc.Name, err)
			}
			svc.State.ProcessStatus = info.Status
			metrics.SetServiceOnline(svc.Module.Name, svc.Name, info.Status.IsOnline())

			lines = append(lines, StatusLine{
				Module:   svc.Module.Name,
				Service:  svc.Name,
				Status:   info.Status,
				PID:      info.PID,
				Port:     svc.Spec.Port,
				Built:    svc.Module.State.Built,
				Pending:  len(PendingMigrations(svc.Module)),
				Internal: svc.Module.Internal,
			})
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Run builds moduleName if needed and then runs its runnableID runnable
// attached to the terminal.
func (o *Orchestrator) Run(ctx context.Context, moduleName, runnableID string) error {
	if err := ValidateName("module name", moduleName); err != nil {
		return err
	}
	if err := ValidateName("runnable id", runnableID); err != nil {
		return err
	}
	var (
		module *Module
		r      Runnable
	)
	stage := func(ctx context.Context, ec *ExecutionContext) error {
		m, err := ec.Registry.FindModule(moduleName)
		if err != nil {
			return err
		}
		found, ok := m.Spec.Runnables[runnableID]
		if !ok {
			return &NotFoundError{Kind: "runnable", Name: moduleName + "." + runnableID, Known: runnableNames(m)}
		}
		module, r = m, found
		ec.StageBuild(m)
		return nil
	}
	run := func(ctx context.Context, ec *ExecutionContext) error {
		return o.exec.Run(ctx, ec, module, r, moduleEnv(module, ec.Options.Env))
	}
	return o.execute(ctx, OperationRun, moduleName+"."+runnableID, stage, run)
}

// Graph renders the service dependency graph in DOT format.
func (o *Orchestrator) Graph(ctx context.Context) (string, error) {
	registry, err := o.LoadRegistry(ctx)
	if err != nil {
		return "", err
	}
	return ToDOT(registry), nil
}

// StartOrder returns the services a start of serviceName touches, in the
// order they would start. Nothing is applied.
func (o *Orchestrator) StartOrder(ctx context.Context, serviceName string) ([]string, error) {
	if err := ValidateName("service name", serviceName); err != nil {
		return nil, err
	}
	registry, err := o.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	_, svc, err := registry.FindService(serviceName)
	if err != nil {
		return nil, err
	}
	order, err := DependencyOrder(registry, svc)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, s := range order {
		names[i] = s.Name
	}
	return names, nil
}

// Shutdown releases the resources of the process manager.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.procs.OnShutdown(ctx)
}

func runnableNames(m *Module) []string {
	names := make([]string, 0, len(m.Spec.Runnables))
	for id := range m.Spec.Runnables {
		names = append(names, m.Name+"."+id)
	}
	sort.Strings(names)
	return names
}
