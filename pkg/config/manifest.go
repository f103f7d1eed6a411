package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/modctl/modctl/pkg/engine"
)

// skipDirs are never searched for manifests.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	StateDir:       true,
}

// Loader finds and decodes module manifests.
type Loader struct {
	cue      *CUEParser
	starlark *StarlarkEvaluator
	ignore   []string
}

// NewLoader creates a manifest loader. Ignore holds glob patterns of
// directories, relative to the walked root, that are skipped.
func NewLoader(ignore []string, scriptTimeout time.Duration) *Loader {
	return &Loader{
		cue:      NewCUEParser(),
		starlark: NewStarlarkEvaluator(scriptTimeout),
		ignore:   ignore,
	}
}

// FindManifests walks root and returns the manifest path of every module
// directory, sorted. A directory holding both module.yaml and module.cue is
// an error.
func (l *Loader) FindManifests(root string) ([]string, error) {
	var manifests []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && l.skip(root, path, d.Name()) {
			return filepath.SkipDir
		}

		yamlPath := filepath.Join(path, ManifestYAML)
		cuePath := filepath.Join(path, ManifestCUE)
		hasYAML, hasCUE := fileExists(yamlPath), fileExists(cuePath)

		switch {
		case hasYAML && hasCUE:
			return fmt.Errorf("%s declares both %s and %s", path, ManifestYAML, ManifestCUE)
		case hasYAML:
			manifests = append(manifests, yamlPath)
		case hasCUE:
			manifests = append(manifests, cuePath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(manifests)
	return manifests, nil
}

func (l *Loader) skip(root, path, name string) bool {
	if skipDirs[name] {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, pattern := range l.ignore {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadManifest reads and validates a module.yaml or module.cue file.
func (l *Loader) LoadManifest(path string) (*ModuleManifest, error) {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".cue":
		data, err = l.cue.ParseFile(path)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	return ParseManifest(data, path)
}

// ParseManifest decodes a manifest from YAML (or JSON) and validates it.
func ParseManifest(data []byte, file string) (*ModuleManifest, error) {
	var m ModuleManifest
	if err := decodeStrict(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	if err := m.Validate(file); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest against its struct constraints.
func (m *ModuleManifest) Validate(file string) error {
	if err := manifestValidator().Struct(m); err != nil {
		return fieldErrors(file, err)
	}
	return nil
}

// ToModule converts a manifest into an engine module rooted at dir. Script
// runnables become callbacks evaluated by the loader's Starlark evaluator.
func (l *Loader) ToModule(m *ModuleManifest, dir string, internal bool) *engine.Module {
	module := &engine.Module{
		Name:     m.Name,
		Dir:      dir,
		Internal: internal,
		Spec: engine.ModuleSpec{
			Env:        copyMap(m.Env),
			Migrations: l.runnableMap(m.Migrations),
			Runnables:  l.runnableMap(m.Runnables),
		},
	}

	if m.Build != nil {
		build := l.toRunnable(*m.Build)
		module.Spec.Build = &build
	}
	if m.Docker != nil {
		module.Spec.Docker = &engine.DockerSpec{
			Image:          m.Docker.Image,
			ComposeService: m.Docker.ComposeService,
		}
	}

	for _, sm := range m.Services {
		svc := &engine.Service{
			Name:   sm.Name,
			Module: module,
			Spec: engine.ServiceSpec{
				Port:           sm.Port,
				Start:          sm.Start,
				Dependencies:   append([]string(nil), sm.Dependencies...),
				Env:            copyMap(sm.Env),
				Values:         copyMap(sm.Values),
				ValueProviders: l.runnableMap(sm.ValueProviders),
				ValueEnv:       copyMap(sm.ValueEnv),
			},
			State: engine.ServiceState{ProcessStatus: engine.ProcessStatusUnknown},
		}
		if hc := sm.HealthCheck; hc != nil {
			svc.Spec.HealthCheck = &engine.HealthCheck{
				HTTP:     hc.HTTP,
				TCP:      hc.TCP,
				Command:  hc.Command,
				Timeout:  hc.Timeout,
				Interval: hc.Interval,
			}
		}
		module.Services = append(module.Services, svc)
	}

	return module
}

func (l *Loader) toRunnable(spec RunnableSpec) engine.Runnable {
	switch {
	case spec.IsScript():
		return l.starlark.Callback(spec.Label, spec.Script)
	case spec.Steps != nil:
		steps := make([]engine.Runnable, len(spec.Steps))
		for i, s := range spec.Steps {
			steps[i] = l.toRunnable(s)
		}
		return engine.Sequence(steps...)
	default:
		return engine.Command(spec.Command)
	}
}

func (l *Loader) runnableMap(specs map[string]RunnableSpec) map[string]engine.Runnable {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]engine.Runnable, len(specs))
	for name, spec := range specs {
		out[name] = l.toRunnable(spec)
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
