package workspace

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/modctl/modctl/pkg/config"
	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/stores"
)

func setupTestWorkspace(t *testing.T) *Workspace {
	t.Helper()

	root := t.TempDir()
	cfg := config.DefaultWorkspace()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	ws := New(root, cfg, store)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.ManifestYAML), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

const dbManifest = `
name: db
migrations:
  "0001_init": "true"
  "0002_users": "true"
services:
  - name: postgres
    start: postgres -D data
    port: 5432
`

const apiManifest = `
name: api
build: go build ./...
services:
  - name: api
    start: ./api
    dependencies: [postgres]
`

func TestDiscoverModules(t *testing.T) {
	ws := setupTestWorkspace(t)
	writeManifest(t, filepath.Join(ws.Root, "zeta", "db"), dbManifest)
	writeManifest(t, filepath.Join(ws.Root, "alpha", "api"), apiManifest)

	modules, err := ws.DiscoverModules(context.Background(), ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}

	if len(modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(modules))
	}
	if modules[0].Name != "api" || modules[1].Name != "db" {
		t.Errorf("expected modules sorted by name, got %s, %s", modules[0].Name, modules[1].Name)
	}
	if want := filepath.Join(ws.Root, "zeta", "db"); modules[1].Dir != want {
		t.Errorf("expected dir %s, got %s", want, modules[1].Dir)
	}
	if modules[1].State.Built || len(modules[1].State.RanMigrations) != 0 {
		t.Errorf("expected zero state for unsaved module, got %+v", modules[1].State)
	}
}

func TestDiscoverModules_InvalidManifest(t *testing.T) {
	ws := setupTestWorkspace(t)
	writeManifest(t, filepath.Join(ws.Root, "broken"), "name: broken\nservices:\n  - name: x\n")

	if _, err := ws.DiscoverModules(context.Background(), ws.Root); err == nil {
		t.Error("expected error for a manifest without a start command")
	}
}

func TestDiscoverInternalModules(t *testing.T) {
	ws := setupTestWorkspace(t)
	ws.Config.Modules = []config.ModuleManifest{{
		Name: "tools",
		Runnables: map[string]config.RunnableSpec{
			"lint": {Command: "golangci-lint run"},
		},
	}}

	modules, err := ws.DiscoverInternalModules(context.Background(), ws.Root)
	if err != nil {
		t.Fatalf("DiscoverInternalModules() error = %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("expected 1 module, got %d", len(modules))
	}
	m := modules[0]
	if !m.Internal || m.Dir != ws.Root {
		t.Errorf("expected internal module rooted at %s, got %+v", ws.Root, m)
	}
	if m.Spec.Runnables["lint"].Command != "golangci-lint run" {
		t.Errorf("unexpected runnables %+v", m.Spec.Runnables)
	}
}

func TestSaveState_RoundTrip(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	writeManifest(t, filepath.Join(ws.Root, "db"), dbManifest)

	modules, err := ws.DiscoverModules(ctx, ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}
	db := modules[0]
	db.State.Built = true
	db.State.MarkRun("0001_init")

	if err := ws.SaveState(ctx, db); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if db.State.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	modules, err = ws.DiscoverModules(ctx, ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}
	got := modules[0].State
	if !got.Built {
		t.Error("expected built to survive")
	}
	if !reflect.DeepEqual(got.RanMigrations, []string{"0001_init"}) {
		t.Errorf("expected [0001_init], got %v", got.RanMigrations)
	}
}

func TestAttachState_DropsUndeclaredMigrations(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()

	err := ws.Store.SaveModuleState(ctx, &stores.ModuleState{
		Module:        "db",
		RanMigrations: []string{"0000_legacy", "0001_init"},
	})
	if err != nil {
		t.Fatalf("SaveModuleState() error = %v", err)
	}

	writeManifest(t, filepath.Join(ws.Root, "db"), dbManifest)
	modules, err := ws.DiscoverModules(ctx, ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}

	if got := modules[0].State.RanMigrations; !reflect.DeepEqual(got, []string{"0001_init"}) {
		t.Errorf("expected only declared migrations, got %v", got)
	}
	if got := engine.PendingMigrations(modules[0]); !reflect.DeepEqual(got, []string{"0002_users"}) {
		t.Errorf("expected 0002_users pending, got %v", got)
	}
}

func TestAttachState_NewMigrationClearsRanAll(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	dir := filepath.Join(ws.Root, "db")

	writeManifest(t, dir, `
name: db
migrations:
  "0001_init": "true"
`)
	modules, err := ws.DiscoverModules(ctx, ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}
	db := modules[0]
	db.State.MarkRun("0001_init")
	db.State.RanAllMigrations = true
	if err := ws.SaveState(ctx, db); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	writeManifest(t, dir, dbManifest)
	modules, err = ws.DiscoverModules(ctx, ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}
	got := modules[0]
	if pending := engine.PendingMigrations(got); !reflect.DeepEqual(pending, []string{"0002_users"}) {
		t.Fatalf("expected 0002_users pending, got %v", pending)
	}
	if got.State.RanAllMigrations {
		t.Error("expected RanAllMigrations to be false while a migration is pending")
	}

	got.State.MarkRun("0002_users")
	got.State.RanAllMigrations = true
	if err := ws.SaveState(ctx, got); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	modules, err = ws.DiscoverModules(ctx, ws.Root)
	if err != nil {
		t.Fatalf("DiscoverModules() error = %v", err)
	}
	if !modules[0].State.RanAllMigrations {
		t.Error("expected RanAllMigrations once every declared migration ran")
	}
}

func TestResetBuild(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()

	if err := ws.ResetBuild(ctx, "never-saved"); err != nil {
		t.Errorf("expected no error for unsaved module, got %v", err)
	}
	if err := ws.ResetBuild(ctx, "bad name"); !engine.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	if err := ws.Store.SaveModuleState(ctx, &stores.ModuleState{Module: "api", Built: true}); err != nil {
		t.Fatalf("SaveModuleState() error = %v", err)
	}
	if err := ws.ResetBuild(ctx, "api"); err != nil {
		t.Fatalf("ResetBuild() error = %v", err)
	}
	state, err := ws.Store.GetModuleState(ctx, "api")
	if err != nil {
		t.Fatalf("GetModuleState() error = %v", err)
	}
	if state.Built {
		t.Error("expected built to be cleared")
	}
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	ws, err := Open(context.Background(), root, "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ws.Close()

	if _, err := os.Stat(filepath.Join(root, config.StateDir, "state.db")); err != nil {
		t.Errorf("expected state database to be created: %v", err)
	}
	if want := filepath.Join(root, config.StateDir, "run"); ws.RunDir() != want {
		t.Errorf("expected run dir %s, got %s", want, ws.RunDir())
	}
	if err := ws.Store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// recordingProcesses stands in for the local process manager.
type recordingProcesses struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingProcesses) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *recordingProcesses) StartAndWait(_ context.Context, _ *engine.ExecutionContext, svc *engine.Service, _ map[string]string) error {
	p.record("start " + svc.Name)
	return nil
}

func (p *recordingProcesses) StopAndWait(_ context.Context, _ *engine.ExecutionContext, svc *engine.Service) error {
	p.record("stop " + svc.Name)
	return nil
}

func (p *recordingProcesses) FindServiceProcess(context.Context, *engine.ExecutionContext, *engine.Service) (engine.ProcessInfo, error) {
	return engine.ProcessInfo{Status: engine.ProcessStatusOffline}, nil
}

func (p *recordingProcesses) Run(_ context.Context, _ *engine.ExecutionContext, m *engine.Module, command string, _ map[string]string) (string, error) {
	p.record(m.Name + ": " + command)
	return "", nil
}

func (p *recordingProcesses) RunInteractive(ctx context.Context, ec *engine.ExecutionContext, m *engine.Module, command string, env map[string]string) error {
	_, err := p.Run(ctx, ec, m, command, env)
	return err
}

func (p *recordingProcesses) OnShutdown(context.Context) error { return nil }

func TestWorkspace_StartPersistsAndRecords(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	writeManifest(t, filepath.Join(ws.Root, "db"), dbManifest)
	writeManifest(t, filepath.Join(ws.Root, "api"), apiManifest)

	procs := &recordingProcesses{}
	orch, err := engine.New(engine.Config{
		RootPath:  ws.Root,
		Discovery: ws,
		Saver:     ws,
		Processes: procs,
		Recorder:  ws.Recorder(),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}

	if err := orch.Start(ctx, "api"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	db, err := ws.Store.GetModuleState(ctx, "db")
	if err != nil {
		t.Fatalf("GetModuleState(db) error = %v", err)
	}
	if !db.RanAllMigrations || !reflect.DeepEqual(db.RanMigrations, []string{"0001_init", "0002_users"}) {
		t.Errorf("expected all migrations persisted, got %+v", db)
	}
	api, err := ws.Store.GetModuleState(ctx, "api")
	if err != nil {
		t.Fatalf("GetModuleState(api) error = %v", err)
	}
	if !api.Built {
		t.Error("expected api to be built")
	}

	runs, err := ws.Store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != stores.RunStatusSucceeded || runs[0].Target != "api" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	events, err := ws.Store.GetEvents(ctx, &runs[0].ID, nil, 100, 0)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) == 0 {
		t.Error("expected applied changes to be recorded")
	}
}

func TestRecorder_FailedEffect(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	rec := ws.Recorder()

	run := &engine.RunRecord{
		ID:        "run-1",
		Operation: engine.OperationBuild,
		Target:    "api",
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := rec.BeginRun(ctx, run); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	err := rec.RecordEffect(ctx, &engine.EffectRecord{
		RunID:    run.ID,
		Change:   "build",
		Target:   "api",
		Error:    "exit status 2",
		Duration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordEffect() error = %v", err)
	}
	run.Status = engine.RunStatusFailed
	run.Error = "build failed"
	if err := rec.EndRun(ctx, run); err != nil {
		t.Fatalf("EndRun() error = %v", err)
	}

	got, err := ws.Store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != stores.RunStatusFailed || got.Error == nil || *got.Error != "build failed" {
		t.Errorf("unexpected run %+v", got)
	}

	level := stores.EventLevelError
	events, err := ws.Store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].DurationMS != 1500 || events[0].Message != "exit status 2" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestRecorder_EndRunRequiresTerminalStatus(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	rec := ws.Recorder()

	run := &engine.RunRecord{
		ID:        "run-2",
		Operation: engine.OperationStart,
		Target:    "api",
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := rec.BeginRun(ctx, run); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	if err := rec.EndRun(ctx, run); err == nil {
		t.Error("expected error ending a run that is still running")
	}

	got, err := ws.Store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != stores.RunStatusRunning || got.CompletedAt != nil {
		t.Errorf("expected run to stay open, got %+v", got)
	}
}

func TestResetAllBuilds(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()

	for _, state := range []*stores.ModuleState{
		{Module: "web", Built: true},
		{Module: "api", Built: true, RanMigrations: []string{"0001_init"}},
		{Module: "docs"},
	} {
		if err := ws.Store.SaveModuleState(ctx, state); err != nil {
			t.Fatalf("SaveModuleState(%s) error = %v", state.Module, err)
		}
	}

	reset, err := ws.ResetAllBuilds(ctx)
	if err != nil {
		t.Fatalf("ResetAllBuilds() error = %v", err)
	}
	if !reflect.DeepEqual(reset, []string{"api", "web"}) {
		t.Errorf("expected [api web], got %v", reset)
	}

	api, err := ws.Store.GetModuleState(ctx, "api")
	if err != nil {
		t.Fatalf("GetModuleState() error = %v", err)
	}
	if api.Built {
		t.Error("expected api to be marked as not built")
	}
	if !reflect.DeepEqual(api.RanMigrations, []string{"0001_init"}) {
		t.Errorf("expected migrations to be kept, got %v", api.RanMigrations)
	}
}
