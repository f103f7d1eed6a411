package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modctl/modctl/pkg/telemetry"
)

// Manifest file names recognised in module directories.
const (
	ManifestYAML = "module.yaml"
	ManifestCUE  = "module.cue"

	// WorkspaceFile is the optional workspace configuration at the root.
	WorkspaceFile = "modctl.yaml"

	// StateDir holds the state database and the run directory by default.
	StateDir = ".modctl"
)

// WorkspaceConfig is the content of modctl.yaml.
type WorkspaceConfig struct {
	// Version is the configuration format version.
	Version int `yaml:"version" json:"version" validate:"omitempty,eq=1"`

	// State configures the state database.
	State StateConfig `yaml:"state" json:"state"`

	// RunDir holds pid files and service logs, relative to the root.
	RunDir string `yaml:"run_dir" json:"run_dir" validate:"required"`

	// Logging, Tracing and Metrics override the telemetry defaults.
	Logging telemetry.LoggingConfig `yaml:"logging" json:"logging"`
	Tracing telemetry.TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics telemetry.MetricsConfig `yaml:"metrics" json:"metrics"`

	// Health holds the defaults applied to service health checks.
	Health HealthDefaults `yaml:"health" json:"health"`

	// Manifests controls module discovery.
	Manifests ManifestsConfig `yaml:"manifests" json:"manifests"`

	// Modules are internal modules declared inline, typically shared
	// infrastructure such as a database.
	Modules []ModuleManifest `yaml:"modules,omitempty" json:"modules,omitempty" validate:"dive"`
}

// StateConfig configures the SQLite state database.
type StateConfig struct {
	// Path of the database file, relative to the root.
	Path string `yaml:"path" json:"path" validate:"required"`

	// BusyTimeout bounds how long a write waits for a concurrent invocation.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout" validate:"gte=0"`
}

// HealthDefaults apply to health checks that leave a field unset.
type HealthDefaults struct {
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	Interval    time.Duration `yaml:"interval" json:"interval" validate:"gte=0"`
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout" validate:"gte=0"`
}

// ManifestsConfig controls module discovery.
type ManifestsConfig struct {
	// Ignore lists glob patterns of directories, relative to the root,
	// that are never searched for manifests.
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// ModuleManifest is the declaration of one module, read from module.yaml,
// module.cue or the modules list of modctl.yaml.
type ModuleManifest struct {
	Name       string                  `yaml:"name" json:"name" validate:"required,max=128,name"`
	Build      *RunnableSpec           `yaml:"build,omitempty" json:"build,omitempty"`
	Env        map[string]string       `yaml:"env,omitempty" json:"env,omitempty"`
	Migrations map[string]RunnableSpec `yaml:"migrations,omitempty" json:"migrations,omitempty" validate:"dive,keys,required,endkeys"`
	Runnables  map[string]RunnableSpec `yaml:"runnables,omitempty" json:"runnables,omitempty" validate:"dive,keys,required,name,endkeys"`
	Docker     *DockerManifest         `yaml:"docker,omitempty" json:"docker,omitempty"`
	Services   []ServiceManifest       `yaml:"services" json:"services" validate:"dive"`
}

// DockerManifest is container metadata. modctl only reports it.
type DockerManifest struct {
	Image          string `yaml:"image,omitempty" json:"image,omitempty"`
	ComposeService string `yaml:"compose_service,omitempty" json:"compose_service,omitempty"`
}

// ServiceManifest is the declaration of one service of a module.
type ServiceManifest struct {
	Name           string                  `yaml:"name" json:"name" validate:"required,max=128,name"`
	Port           int                     `yaml:"port,omitempty" json:"port,omitempty" validate:"min=0,max=65535"`
	Start          string                  `yaml:"start" json:"start" validate:"required"`
	Dependencies   []string                `yaml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"dive,name"`
	Env            map[string]string       `yaml:"env,omitempty" json:"env,omitempty"`
	Values         map[string]string       `yaml:"values,omitempty" json:"values,omitempty" validate:"dive,keys,name,endkeys"`
	ValueProviders map[string]RunnableSpec `yaml:"value_providers,omitempty" json:"value_providers,omitempty" validate:"dive,keys,name,endkeys"`
	ValueEnv       map[string]string       `yaml:"value_env,omitempty" json:"value_env,omitempty" validate:"dive,valueid"`
	HealthCheck    *HealthCheckManifest    `yaml:"health_check,omitempty" json:"health_check,omitempty"`
}

// HealthCheckManifest declares how readiness is detected. At most one of
// HTTP, TCP and Command may be set.
type HealthCheckManifest struct {
	HTTP     string        `yaml:"http,omitempty" json:"http,omitempty" validate:"omitempty,url,excluded_with=TCP Command"`
	TCP      string        `yaml:"tcp,omitempty" json:"tcp,omitempty" validate:"omitempty,hostname_port,excluded_with=Command"`
	Command  string        `yaml:"command,omitempty" json:"command,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty" validate:"gte=0"`
}

// RunnableSpec is a runnable as written in a manifest. It decodes from a
// shell command string, a list of runnables run in order, or a mapping with
// one of the keys run, steps or script.
type RunnableSpec struct {
	Command string         `json:"run,omitempty"`
	Steps   []RunnableSpec `json:"steps,omitempty"`
	Script  string         `json:"script,omitempty"`
	Label   string         `json:"label,omitempty"`
}

// runnableMapping is the mapping form of a RunnableSpec.
type runnableMapping struct {
	Run    string         `yaml:"run"`
	Steps  []RunnableSpec `yaml:"steps"`
	Script string         `yaml:"script"`
	Label  string         `yaml:"label"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *RunnableSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var cmd string
		if err := node.Decode(&cmd); err != nil {
			return err
		}
		*r = RunnableSpec{Command: cmd}
		return nil

	case yaml.SequenceNode:
		var steps []RunnableSpec
		if err := node.Decode(&steps); err != nil {
			return err
		}
		*r = RunnableSpec{Steps: steps}
		return nil

	case yaml.MappingNode:
		var m runnableMapping
		if err := node.Decode(&m); err != nil {
			return err
		}
		set := 0
		for _, present := range []bool{m.Run != "", m.Steps != nil, m.Script != ""} {
			if present {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("line %d: runnable must set exactly one of run, steps or script", node.Line)
		}
		*r = RunnableSpec{Command: m.Run, Steps: m.Steps, Script: m.Script, Label: m.Label}
		return nil

	default:
		return fmt.Errorf("line %d: runnable must be a string, a list or a mapping", node.Line)
	}
}

// IsScript reports whether the runnable executes in-process.
func (r RunnableSpec) IsScript() bool {
	return r.Script != ""
}

// ValidationError locates a configuration problem.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "services[0].port").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		if loc == "" {
			return fmt.Sprintf("%s: %s", e.Path, e.Message)
		}
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	}
	if loc == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

// ValidationErrors collects every problem found in one source.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", errs[0].Error(), len(errs)-1)
}
