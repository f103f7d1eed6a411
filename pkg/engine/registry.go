package engine

import (
	"fmt"
	"sort"
)

// Registry is the snapshot of modules and services for one invocation.
// Its shape never changes after construction; only the nested State fields
// of modules and services are mutated.
type Registry struct {
	modules  []*Module
	byName   map[string]*Module
	services map[string]*Service
	order    []*Service
}

// NewRegistry indexes modules and links every service to its owner.
// Module names and service names must each be unique.
func NewRegistry(modules []*Module) (*Registry, error) {
	r := &Registry{
		modules:  make([]*Module, 0, len(modules)),
		byName:   make(map[string]*Module, len(modules)),
		services: make(map[string]*Service),
	}

	for _, m := range modules {
		if m == nil {
			continue
		}
		if m.Name == "" {
			return nil, NewEngineError(ErrCodeValidation, "module has empty name", nil).
				WithTarget(m.Dir)
		}
		if _, exists := r.byName[m.Name]; exists {
			return nil, NewEngineError(ErrCodeValidation, fmt.Sprintf("duplicate module name: %s", m.Name), nil).
				WithTarget(m.Dir)
		}
		r.byName[m.Name] = m
		r.modules = append(r.modules, m)

		for _, svc := range m.Services {
			if prev, exists := r.services[svc.Name]; exists {
				return nil, NewEngineError(ErrCodeValidation,
					fmt.Sprintf("duplicate service name %s in modules %s and %s", svc.Name, prev.Module.Name, m.Name), nil)
			}
			svc.Module = m
			if svc.State.ProcessStatus == "" {
				svc.State.ProcessStatus = ProcessStatusUnknown
			}
			r.services[svc.Name] = svc
			r.order = append(r.order, svc)
		}
	}

	return r, nil
}

// FindModule returns the module with the exact name.
func (r *Registry) FindModule(name string) (*Module, error) {
	if m, ok := r.byName[name]; ok {
		return m, nil
	}
	return nil, &NotFoundError{Kind: "module", Name: name, Known: r.ModuleNames()}
}

// FindService returns the service with the exact name and its owning module.
func (r *Registry) FindService(name string) (*Module, *Service, error) {
	if svc, ok := r.services[name]; ok {
		return svc.Module, svc, nil
	}
	return nil, nil, &NotFoundError{Kind: "service", Name: name, Known: r.ServiceNames()}
}

// Modules returns all modules in discovery order.
func (r *Registry) Modules() []*Module {
	return r.modules
}

// Services returns all services, grouped by module in discovery order.
func (r *Registry) Services() []*Service {
	return r.order
}

// ModuleNames returns the sorted names of all modules.
func (r *Registry) ModuleNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServiceNames returns the sorted names of all services.
func (r *Registry) ServiceNames() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
