package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/telemetry"
)

// DefaultWorkspace returns the configuration used when modctl.yaml is absent.
func DefaultWorkspace() *WorkspaceConfig {
	tel := telemetry.DefaultConfig()
	return &WorkspaceConfig{
		Version: 1,
		State: StateConfig{
			Path:        filepath.Join(StateDir, "state.db"),
			BusyTimeout: 5 * time.Second,
		},
		RunDir:  filepath.Join(StateDir, "run"),
		Logging: tel.Logging,
		Tracing: tel.Tracing,
		Metrics: tel.Metrics,
		Health: HealthDefaults{
			Timeout:     30 * time.Second,
			Interval:    500 * time.Millisecond,
			StopTimeout: 10 * time.Second,
		},
	}
}

// LoadWorkspace reads the workspace configuration. An empty path means
// modctl.yaml under root. A missing file yields the defaults. LOG_LEVEL
// overrides the configured log level.
func LoadWorkspace(root, path string) (*WorkspaceConfig, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, WorkspaceFile)
	}

	cfg := DefaultWorkspace()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults
	default:
		return nil, fmt.Errorf("failed to read workspace config: %w", err)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workspace config %s: %w", path, err)
	}

	return cfg, nil
}

// decodeStrict decodes YAML rejecting unknown fields.
func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks struct constraints, the embedded module manifests and the
// telemetry settings.
func (c *WorkspaceConfig) Validate() error {
	if err := manifestValidator().Struct(c); err != nil {
		return fieldErrors("", err)
	}
	return c.Telemetry("", "").Validate()
}

// Telemetry assembles the telemetry configuration for this workspace.
func (c *WorkspaceConfig) Telemetry(version, environment string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	if environment != "" {
		cfg.Environment = environment
	}
	cfg.Logging = c.Logging
	cfg.Tracing = c.Tracing
	cfg.Metrics = c.Metrics
	return cfg
}

// ResolvePath makes a configured path absolute relative to root.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// WriteDefaultWorkspace writes a commented default modctl.yaml unless one
// already exists. It reports whether a file was written.
func WriteDefaultWorkspace(root string) (bool, error) {
	path := filepath.Join(root, WorkspaceFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	cfg := DefaultWorkspace()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("failed to encode default config: %w", err)
	}

	content := "# modctl workspace configuration\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// manifestValidator returns the validator with the modctl name tags. Field
// paths in its errors use the YAML keys.
func manifestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = engine.NewValidator()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// fieldErrors converts validator errors into ValidationErrors.
func fieldErrors(file string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			File:    file,
			Path:    fieldPath(fe.Namespace()),
			Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
		})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
