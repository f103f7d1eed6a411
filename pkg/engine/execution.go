package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// Options are ambient options of one invocation.
type Options struct {
	// DryRun stages changes without applying them.
	DryRun bool

	// Env is merged into the environment of every runnable and service.
	Env map[string]string
}

// ExecutionContext is owned by exactly one top-level operation. It carries
// the registry snapshot and the queue of staged changes. It is never
// persisted and never shared.
type ExecutionContext struct {
	// ID identifies the invocation in logs, traces and the run ledger.
	ID string

	// RootPath is the project root the modules were discovered under.
	RootPath string

	// Options are the ambient options of the invocation.
	Options Options

	// Registry is the module and service snapshot of the invocation.
	Registry *Registry

	staged []StagedChange
}

// NewExecutionContext creates an execution context with an empty queue.
func NewExecutionContext(rootPath string, registry *Registry, opts Options) *ExecutionContext {
	return &ExecutionContext{
		ID:       uuid.New().String(),
		RootPath: rootPath,
		Options:  opts,
		Registry: registry,
	}
}

// Staged returns a copy of the queue in insertion order.
func (ec *ExecutionContext) Staged() []StagedChange {
	out := make([]StagedChange, len(ec.staged))
	copy(out, ec.staged)
	return out
}

// Len returns the number of queued changes.
func (ec *ExecutionContext) Len() int {
	return len(ec.staged)
}

func (ec *ExecutionContext) push(c StagedChange) {
	ec.staged = append(ec.staged, c)
}

// drain empties the queue and returns what it held.
func (ec *ExecutionContext) drain() []StagedChange {
	out := ec.staged
	ec.staged = nil
	return out
}

// ChangeKind discriminates the StagedChange variants.
type ChangeKind string

const (
	ChangeBuild         ChangeKind = "build"
	ChangeMigrations    ChangeKind = "migrations"
	ChangeServiceStatus ChangeKind = "service_status"
)

// StagedChange is a desired-state delta that has not been applied yet. The
// variants are BuildRequested, MigrationsRequested and
// ServiceStatusRequested; no other type satisfies the interface.
type StagedChange interface {
	Kind() ChangeKind
	Target() string
	String() string
	stagedChange()
}

// BuildRequested asks for the module to be built.
type BuildRequested struct {
	Module *Module
}

// MigrationsRequested asks for all pending migrations of the module.
type MigrationsRequested struct {
	Module *Module
}

// ServiceStatusRequested asks for the service process to reach Status.
type ServiceStatusRequested struct {
	Service *Service
	Status  ProcessStatus
}

func (c *BuildRequested) Kind() ChangeKind         { return ChangeBuild }
func (c *MigrationsRequested) Kind() ChangeKind    { return ChangeMigrations }
func (c *ServiceStatusRequested) Kind() ChangeKind { return ChangeServiceStatus }

func (c *BuildRequested) Target() string         { return c.Module.Name }
func (c *MigrationsRequested) Target() string    { return c.Module.Name }
func (c *ServiceStatusRequested) Target() string { return c.Service.Name }

func (c *BuildRequested) String() string {
	return fmt.Sprintf("build module %s", c.Module.Name)
}

func (c *MigrationsRequested) String() string {
	return fmt.Sprintf("migrate module %s", c.Module.Name)
}

func (c *ServiceStatusRequested) String() string {
	switch c.Status {
	case ProcessStatusOnline:
		return fmt.Sprintf("start service %s", c.Service.Name)
	case ProcessStatusOffline:
		return fmt.Sprintf("stop service %s", c.Service.Name)
	default:
		return fmt.Sprintf("set service %s to %s", c.Service.Name, c.Status)
	}
}

func (*BuildRequested) stagedChange()         {}
func (*MigrationsRequested) stagedChange()    {}
func (*ServiceStatusRequested) stagedChange() {}
