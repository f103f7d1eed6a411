package engine

import (
	"context"
	"time"

	"github.com/modctl/modctl/pkg/telemetry"
)

// executeStaged drains the queue of ec once and applies every change in
// insertion order. The first failing change aborts the walk; the changes
// after it are discarded with the rest of the queue. An empty queue is a
// no-op.
func (o *Orchestrator) executeStaged(ctx context.Context, ec *ExecutionContext) error {
	changes := ec.drain()
	metrics := telemetry.MetricsFromContext(ctx)

	for i, change := range changes {
		metrics.SetStagedChanges(len(changes) - i)
		if err := o.apply(ctx, ec, change); err != nil {
			metrics.SetStagedChanges(0)
			return err
		}
	}
	metrics.SetStagedChanges(0)
	return nil
}

// apply performs the side effect of one staged change.
func (o *Orchestrator) apply(ctx context.Context, ec *ExecutionContext, change StagedChange) error {
	s := telemetry.StartEffect(ctx, ec.ID, string(change.Kind()), change.Target())
	s.Logger.Debug(change.String())

	err := o.dispatch(s.Ctx, ec, change)
	s.End(err)

	effect := &EffectRecord{
		RunID:     ec.ID,
		Change:    change.String(),
		Target:    change.Target(),
		Duration:  s.Timer.Duration(),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		effect.Error = err.Error()
		s.Logger.WithError(err).Error("effect failed")
	} else {
		s.Logger.Info(change.String())
	}
	if rerr := o.recorder.RecordEffect(ctx, effect); rerr != nil {
		s.Logger.WithError(rerr).Warn("failed to record effect")
	}

	return err
}

func (o *Orchestrator) dispatch(ctx context.Context, ec *ExecutionContext, change StagedChange) error {
	switch c := change.(type) {
	case *BuildRequested:
		if c.Module.State.Built {
			return nil
		}
		return o.builds.Build(ctx, ec, c.Module)

	case *MigrationsRequested:
		return o.migrations.Apply(ctx, ec, c.Module)

	case *ServiceStatusRequested:
		return o.applyServiceStatus(ctx, ec, c)

	default:
		return &UnhandledStateError{Change: "staged change", Value: change.String()}
	}
}

func (o *Orchestrator) applyServiceStatus(ctx context.Context, ec *ExecutionContext, c *ServiceStatusRequested) error {
	svc := c.Service
	metrics := telemetry.MetricsFromContext(ctx)

	switch c.Status {
	case ProcessStatusOnline:
		values, err := o.resolveAll(ctx, ec, svc.Spec.ValueEnv)
		if err != nil {
			return err
		}
		env := moduleEnv(svc.Module, ec.Options.Env, svc.Spec.Env, values)
		if err := o.procs.StartAndWait(ctx, ec, svc, env); err != nil {
			return NewEngineError(ErrCodeDependencyFailed, "failed to start service", err).
				WithTarget(svc.Name)
		}
		svc.State.ProcessStatus = ProcessStatusOnline
		metrics.SetServiceOnline(svc.Module.Name, svc.Name, true)
		return nil

	case ProcessStatusOffline:
		if err := o.procs.StopAndWait(ctx, ec, svc); err != nil {
			return NewEngineError(ErrCodeDependencyFailed, "failed to stop service", err).
				WithTarget(svc.Name)
		}
		svc.State.ProcessStatus = ProcessStatusOffline
		metrics.SetServiceOnline(svc.Module.Name, svc.Name, false)
		return nil

	default:
		return &UnhandledStateError{Change: "service.processStatus", Value: c.Status.String()}
	}
}
