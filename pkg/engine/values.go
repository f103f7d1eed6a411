package engine

import (
	"context"
	"sort"

	"github.com/modctl/modctl/pkg/telemetry"
)

// resolveValue resolves "<service>.<provider>". A static value is returned
// as is; a provider runnable is executed after its module was built. Every
// failure is wrapped in a ValueResolutionError naming identifier.
func (o *Orchestrator) resolveValue(ctx context.Context, ec *ExecutionContext, identifier string) (string, error) {
	value, err := o.lookupValue(ctx, ec, identifier)
	if err != nil {
		return "", &ValueResolutionError{Identifier: identifier, Err: err}
	}
	return value, nil
}

func (o *Orchestrator) lookupValue(ctx context.Context, ec *ExecutionContext, identifier string) (string, error) {
	serviceName, provider, err := ParseValueIdentifier(identifier)
	if err != nil {
		return "", err
	}

	_, svc, err := ec.Registry.FindService(serviceName)
	if err != nil {
		return "", err
	}

	metrics := telemetry.MetricsFromContext(ctx)

	if v, ok := svc.Spec.Values[provider]; ok {
		metrics.RecordValueResolution("static", "succeeded")
		return v, nil
	}

	r, ok := svc.Spec.ValueProviders[provider]
	if !ok {
		return "", ValueProviderNotFound(svc, provider)
	}

	// The build is applied on its own so the caller's queue is untouched.
	if change := buildChange(svc.Module); change != nil {
		if err := o.apply(ctx, ec, change); err != nil {
			metrics.RecordValueResolution("provider", "failed")
			return "", err
		}
	}

	env := moduleEnv(svc.Module, ec.Options.Env, svc.Spec.Env)
	out, err := o.exec.Capture(ctx, ec, svc.Module, r, env)
	if err != nil {
		metrics.RecordValueResolution("provider", "failed")
		return "", err
	}

	metrics.RecordValueResolution("provider", "succeeded")
	return out, nil
}

// resolveAll resolves every identifier of refs independently. Names are
// processed in sorted order; nothing is cached between entries.
func (o *Orchestrator) resolveAll(ctx context.Context, ec *ExecutionContext, refs map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(refs))
	for _, name := range names {
		v, err := o.resolveValue(ctx, ec, refs[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// valueNames lists the static value and provider names of svc.
func valueNames(svc *Service) []string {
	seen := make(map[string]bool, len(svc.Spec.Values)+len(svc.Spec.ValueProviders))
	names := make([]string, 0, len(seen))
	for name := range svc.Spec.Values {
		seen[name] = true
		names = append(names, svc.Name+"."+name)
	}
	for name := range svc.Spec.ValueProviders {
		if !seen[name] {
			names = append(names, svc.Name+"."+name)
		}
	}
	sort.Strings(names)
	return names
}
