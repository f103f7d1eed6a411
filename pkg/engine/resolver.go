package engine

import (
	"fmt"
	"sort"
	"strings"
)

// StageStartWithDependencies stages the start of target after the starts of
// all its transitive dependencies. Dependencies are visited in declaration
// order and depth first, so prerequisites always precede their dependents
// in the queue. A service reachable through several paths is staged once
// per path.
//
// A dependency loop fails with CycleDetectedError and an unknown dependency
// with NotFoundError. In both cases nothing further is staged, but changes
// staged before the failure stay queued; callers abandon the context.
func (ec *ExecutionContext) StageStartWithDependencies(target *Service) error {
	return ec.stageWithDependencies(target, make([]string, 0, 8))
}

func (ec *ExecutionContext) stageWithDependencies(svc *Service, path []string) error {
	path = append(path, svc.Name)

	for _, depName := range svc.Spec.Dependencies {
		if cycle := cyclePath(path, depName); cycle != nil {
			return &CycleDetectedError{Path: cycle}
		}

		_, dep, err := ec.Registry.FindService(depName)
		if err != nil {
			return fmt.Errorf("dependency of service %s: %w", svc.Name, err)
		}

		if err := ec.stageWithDependencies(dep, path); err != nil {
			return err
		}
	}

	ec.StageStart(svc)
	return nil
}

// cyclePath returns the loop closed by visiting next from path, or nil.
func cyclePath(path []string, next string) []string {
	for i, name := range path {
		if name == next {
			cycle := make([]string, 0, len(path)-i+1)
			cycle = append(cycle, path[i:]...)
			return append(cycle, next)
		}
	}
	return nil
}

// DependencyOrder returns target's transitive dependencies followed by
// target itself, each service once, in the order their starts apply.
func DependencyOrder(registry *Registry, target *Service) ([]*Service, error) {
	ec := NewExecutionContext("", registry, Options{})
	if err := ec.StageStartWithDependencies(target); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var order []*Service
	for _, c := range ec.Staged() {
		s, ok := c.(*ServiceStatusRequested)
		if !ok || seen[s.Service.Name] {
			continue
		}
		seen[s.Service.Name] = true
		order = append(order, s.Service)
	}
	return order, nil
}

// ToDOT renders the service dependency graph in DOT format, one cluster per
// module. The output can be rendered with Graphviz tools.
func ToDOT(registry *Registry) string {
	var sb strings.Builder

	sb.WriteString("digraph Services {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i, m := range registry.Modules() {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_%d {\n", i))
		sb.WriteString(fmt.Sprintf("    label=%q;\n", m.Name))
		sb.WriteString("    style=dashed;\n")
		for _, svc := range m.Services {
			sb.WriteString(fmt.Sprintf("    %q [fillcolor=%q, style=\"filled,rounded\"];\n",
				svc.Name, statusColor(svc.State.ProcessStatus)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, svc := range registry.Services() {
		deps := append([]string(nil), svc.Spec.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", svc.Name, dep))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// statusColor returns a fill color for visualizing process status.
func statusColor(s ProcessStatus) string {
	switch s {
	case ProcessStatusOnline:
		return "lightgreen"
	case ProcessStatusOffline:
		return "lightcoral"
	default:
		return "lightgray"
	}
}
