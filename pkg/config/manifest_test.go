package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/modctl/modctl/pkg/engine"
)

const apiManifest = `
name: billing
build: go build -o bin/api ./cmd/api
env:
  GOFLAGS: -mod=mod
migrations:
  "0001_init": psql -f migrations/0001.sql
  "0002_index":
    run: psql -f migrations/0002.sql
runnables:
  seed: ["./bin/api seed", "./bin/api reindex"]
docker:
  image: postgres:16
services:
  - name: api
    port: 8080
    start: ./bin/api serve
    dependencies: [db]
    values:
      port: "8080"
    value_providers:
      dsn: ./bin/api print-dsn
    value_env:
      DATABASE_URL: db.dsn
    health_check:
      http: http://localhost:8080/healthz
      timeout: 30s
      interval: 500ms
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(apiManifest), "module.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	if m.Name != "billing" {
		t.Errorf("expected name billing, got %s", m.Name)
	}
	if m.Build == nil || m.Build.Command != "go build -o bin/api ./cmd/api" {
		t.Errorf("unexpected build %+v", m.Build)
	}
	if got := m.Migrations["0002_index"].Command; got != "psql -f migrations/0002.sql" {
		t.Errorf("expected mapping form to decode, got %q", got)
	}
	if got := len(m.Runnables["seed"].Steps); got != 2 {
		t.Errorf("expected 2 seed steps, got %d", got)
	}

	svc := m.Services[0]
	if svc.Port != 8080 || svc.ValueEnv["DATABASE_URL"] != "db.dsn" {
		t.Errorf("unexpected service %+v", svc)
	}
	if svc.HealthCheck == nil || svc.HealthCheck.Timeout != 30*time.Second || svc.HealthCheck.Interval != 500*time.Millisecond {
		t.Errorf("unexpected health check %+v", svc.HealthCheck)
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bad module name",
			content: "name: -bad\nservices: []\n",
			want:    "name",
		},
		{
			name:    "port out of range",
			content: "name: m\nservices:\n  - name: api\n    start: run\n    port: 70000\n",
			want:    "services[0].port",
		},
		{
			name:    "missing start",
			content: "name: m\nservices:\n  - name: api\n",
			want:    "services[0].start",
		},
		{
			name:    "bad value identifier",
			content: "name: m\nservices:\n  - name: api\n    start: run\n    value_env:\n      URL: nodot\n",
			want:    "value_env",
		},
		{
			name:    "two health checks",
			content: "name: m\nservices:\n  - name: api\n    start: run\n    health_check:\n      tcp: localhost:80\n      command: \"true\"\n",
			want:    "health_check.tcp",
		},
		{
			name:    "unknown field",
			content: "name: m\nservice: []\n",
			want:    "service",
		},
		{
			name:    "ambiguous runnable mapping",
			content: "name: m\nbuild:\n  run: make\n  script: output = 1\nservices: []\n",
			want:    "exactly one",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.content), "module.yaml")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoader_FindManifests(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "services", "api", ManifestYAML), "name: api\nservices: []\n")
	writeFile(t, filepath.Join(root, "services", "web", ManifestCUE), "name: \"web\"\n")
	writeFile(t, filepath.Join(root, "node_modules", "dep", ManifestYAML), "name: dep\n")
	writeFile(t, filepath.Join(root, ".modctl", "x", ManifestYAML), "name: x\n")
	writeFile(t, filepath.Join(root, "scratch", "tmp", ManifestYAML), "name: tmp\n")

	loader := NewLoader([]string{"scratch"}, 0)
	got, err := loader.FindManifests(root)
	if err != nil {
		t.Fatalf("FindManifests() error = %v", err)
	}

	want := []string{
		filepath.Join(root, "services", "api", ManifestYAML),
		filepath.Join(root, "services", "web", ManifestCUE),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLoader_FindManifests_BothFormats(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api", ManifestYAML), "name: api\n")
	writeFile(t, filepath.Join(root, "api", ManifestCUE), "name: \"api\"\n")

	if _, err := NewLoader(nil, 0).FindManifests(root); err == nil {
		t.Error("expected error for a directory with both manifests")
	}
}

func TestLoader_ToModule(t *testing.T) {
	loader := NewLoader(nil, time.Second)
	m, err := ParseManifest([]byte(apiManifest), "module.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	module := loader.ToModule(m, "/work/billing", false)

	if module.Dir != "/work/billing" || module.Internal {
		t.Errorf("unexpected module placement %+v", module)
	}
	if !module.HasBuild() || module.Spec.Build.Kind != engine.RunnableCommand {
		t.Errorf("expected command build, got %+v", module.Spec.Build)
	}
	if module.Spec.Runnables["seed"].Kind != engine.RunnableSequence {
		t.Errorf("expected seed to be a sequence, got %s", module.Spec.Runnables["seed"].Kind)
	}
	if module.Spec.Docker == nil || module.Spec.Docker.Image != "postgres:16" {
		t.Errorf("unexpected docker spec %+v", module.Spec.Docker)
	}

	svc := module.Services[0]
	if svc.Module != module {
		t.Error("expected service to point at its module")
	}
	if svc.State.ProcessStatus != engine.ProcessStatusUnknown {
		t.Errorf("expected unknown status, got %s", svc.State.ProcessStatus)
	}
	if svc.Spec.HealthCheck == nil || svc.Spec.HealthCheck.HTTP != "http://localhost:8080/healthz" {
		t.Errorf("unexpected health check %+v", svc.Spec.HealthCheck)
	}
	if svc.Spec.ValueProviders["dsn"].Command != "./bin/api print-dsn" {
		t.Errorf("unexpected provider %+v", svc.Spec.ValueProviders["dsn"])
	}
}

func TestLoader_ScriptRunnable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "port.txt"), "5432\n")

	content := `
name: db
env:
  PGUSER: app
services:
  - name: db
    start: postgres
    value_providers:
      dsn:
        label: dsn
        script: |
          port = read_file("port.txt").strip()
          output = "postgres://%s@localhost:%s/%s" % (module.env["PGUSER"], port, module.name)
`
	m, err := ParseManifest([]byte(content), "module.yaml")
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	module := NewLoader(nil, 5*time.Second).ToModule(m, dir, false)
	provider := module.Services[0].Spec.ValueProviders["dsn"]
	if provider.Kind != engine.RunnableCallback || provider.Label != "dsn" {
		t.Fatalf("expected dsn callback, got %+v", provider)
	}

	out, err := provider.Callback(context.Background(), module)
	if err != nil {
		t.Fatalf("callback error = %v", err)
	}
	if out != "postgres://app@localhost:5432/db" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestLoader_LoadManifestCUE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestCUE)
	writeFile(t, path, `
name: "web"
build: ["npm ci", "npm run build"]
_port: 3000
services: [{
	name:  "web"
	port:  _port
	start: "npm start"
	health_check: {
		tcp:     "localhost:3000"
		timeout: "10s"
	}
}]
`)

	m, err := NewLoader(nil, 0).LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.Name != "web" {
		t.Errorf("expected name web, got %s", m.Name)
	}
	if m.Build == nil || len(m.Build.Steps) != 2 {
		t.Errorf("expected two build steps, got %+v", m.Build)
	}
	if len(m.Services) != 1 || m.Services[0].Port != 3000 {
		t.Fatalf("unexpected services %+v", m.Services)
	}
	if m.Services[0].HealthCheck.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", m.Services[0].HealthCheck.Timeout)
	}
}

func TestLoader_LoadManifestCUE_SchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestCUE)
	writeFile(t, path, `
name: "web"
services: [{
	name:  "web"
	port:  99999
	start: "npm start"
}]
`)

	_, err := NewLoader(nil, 0).LoadManifest(path)
	if err == nil {
		t.Fatal("expected schema violation")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
}
