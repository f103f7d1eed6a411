package engine

import (
	"sort"
	"time"
)

// Module is a unit of deployable functionality discovered in the workspace.
// It owns one or more services and has its own build and migration lifecycle.
type Module struct {
	// Name uniquely identifies the module within one invocation.
	Name string `json:"name"`

	// Dir is the directory the module's runnables execute in.
	Dir string `json:"dir"`

	// Internal marks modules declared in the workspace config rather than
	// discovered from a manifest on disk.
	Internal bool `json:"internal,omitempty"`

	// Spec is the static, declared part of the module.
	Spec ModuleSpec `json:"spec"`

	// State is the mutable part of the module that survives invocations.
	State ModuleState `json:"state"`

	// Services are the services owned by this module, in declaration order.
	Services []*Service `json:"services"`
}

// ModuleSpec is the declared configuration of a module.
type ModuleSpec struct {
	// Build is the action that produces the module's artifacts. Nil when the
	// module declares no build step.
	Build *Runnable `json:"build,omitempty"`

	// Migrations maps migration ids to the runnable that applies them.
	// Ids are applied in lexicographic order.
	Migrations map[string]Runnable `json:"migrations,omitempty"`

	// Runnables are named ad-hoc tasks invokable through Run.
	Runnables map[string]Runnable `json:"runnables,omitempty"`

	// Docker carries container metadata for modules backed by an image.
	Docker *DockerSpec `json:"docker,omitempty"`

	// Env is merged into the environment of every runnable of the module.
	Env map[string]string `json:"env,omitempty"`
}

// DockerSpec is descriptive container metadata. The engine never acts on it.
type DockerSpec struct {
	Image          string `json:"image,omitempty"`
	ComposeService string `json:"compose_service,omitempty"`
}

// ModuleState is the persisted lifecycle state of a module.
type ModuleState struct {
	// RanMigrations holds the ids of applied migrations, kept sorted.
	RanMigrations []string `json:"ran_migrations"`

	// RanAllMigrations is set once a full batch of pending migrations succeeded.
	RanAllMigrations bool `json:"ran_all_migrations"`

	// Built is set once the build action completed successfully.
	Built bool `json:"built"`

	// UpdatedAt is when the state was last persisted.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// HasRun reports whether the migration id was applied.
func (s *ModuleState) HasRun(id string) bool {
	i := sort.SearchStrings(s.RanMigrations, id)
	return i < len(s.RanMigrations) && s.RanMigrations[i] == id
}

// MarkRun records a migration id as applied. Ids are never removed.
func (s *ModuleState) MarkRun(id string) {
	if s.HasRun(id) {
		return
	}
	s.RanMigrations = append(s.RanMigrations, id)
	sort.Strings(s.RanMigrations)
}

// HasBuild reports whether the module declares a build action.
func (m *Module) HasBuild() bool {
	return m.Spec.Build != nil && !m.Spec.Build.IsZero()
}

// Service is one runnable process exposed by a module.
type Service struct {
	// Name is unique across all modules of an invocation.
	Name string `json:"name"`

	// Module is the owning module.
	Module *Module `json:"-"`

	// Spec is the static, declared part of the service.
	Spec ServiceSpec `json:"spec"`

	// State is the last observed runtime state.
	State ServiceState `json:"state"`
}

// ServiceSpec is the declared configuration of a service.
type ServiceSpec struct {
	// Port is the port the service listens on, 0 when unspecified.
	Port int `json:"port,omitempty"`

	// Start is the command that runs the service in the foreground.
	Start string `json:"start"`

	// Dependencies are names of services that must be online first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Env is merged over the module env when the service starts.
	Env map[string]string `json:"env,omitempty"`

	// Values are static named values, resolvable without any build.
	Values map[string]string `json:"values,omitempty"`

	// ValueProviders compute named values by running a runnable.
	ValueProviders map[string]Runnable `json:"value_providers,omitempty"`

	// ValueEnv maps environment variable names to value identifiers
	// ("<service>.<provider>") resolved right before the service starts.
	ValueEnv map[string]string `json:"value_env,omitempty"`

	// HealthCheck describes how readiness is detected after start.
	HealthCheck *HealthCheck `json:"health_check,omitempty"`
}

// HealthCheck describes how the process manager decides a service is up.
// At most one of HTTP, TCP and Command is expected to be set.
type HealthCheck struct {
	HTTP     string        `json:"http,omitempty"`
	TCP      string        `json:"tcp,omitempty"`
	Command  string        `json:"command,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
}

// ServiceState is the runtime state of a service.
type ServiceState struct {
	ProcessStatus ProcessStatus `json:"process_status"`
}

// ProcessInfo is what the process manager knows about a service process.
type ProcessInfo struct {
	Status ProcessStatus `json:"status"`
	PID    int           `json:"pid,omitempty"`
}

// StatusLine is one row of the List operation.
type StatusLine struct {
	Module   string        `json:"module"`
	Service  string        `json:"service"`
	Status   ProcessStatus `json:"status"`
	PID      int           `json:"pid,omitempty"`
	Port     int           `json:"port,omitempty"`
	Built    bool          `json:"built"`
	Pending  int           `json:"pending_migrations"`
	Internal bool          `json:"internal,omitempty"`
}
