package process

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/modctl/modctl/pkg/engine"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := DefaultConfig(filepath.Join(t.TempDir(), "run"))
	cfg.HealthTimeout = 5 * time.Second
	cfg.HealthInterval = 50 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func testService(t *testing.T, name, start string) *engine.Service {
	t.Helper()
	module := &engine.Module{Name: "mod", Dir: t.TempDir()}
	svc := &engine.Service{
		Name:   name,
		Module: module,
		Spec:   engine.ServiceSpec{Start: start},
	}
	module.Services = []*engine.Service{svc}
	return svc
}

// stopOnCleanup makes sure no test leaves a service running.
func stopOnCleanup(t *testing.T, m *Manager, svc *engine.Service) {
	t.Cleanup(func() {
		_ = m.StopAndWait(context.Background(), nil, svc)
	})
}

func TestNewManager_RequiresRunDir(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("expected error without run dir")
	}
}

func TestManager_Run(t *testing.T) {
	m := setupTestManager(t)
	module := &engine.Module{Name: "mod", Dir: t.TempDir()}

	out, err := m.Run(context.Background(), nil, module, `printf '%s:%s' "$GREETING" "$(basename "$(pwd)")"`, map[string]string{
		"GREETING": "hello",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := "hello:" + filepath.Base(module.Dir); out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestManager_RunFailureIncludesStderr(t *testing.T) {
	m := setupTestManager(t)
	module := &engine.Module{Name: "mod", Dir: t.TempDir()}

	_, err := m.Run(context.Background(), nil, module, "echo boom >&2; exit 3", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode != 3 || exitErr.Stderr != "boom" {
		t.Errorf("unexpected exit error %+v", exitErr)
	}
}

func TestManager_RunInteractive(t *testing.T) {
	var stdout bytes.Buffer
	cfg := DefaultConfig(t.TempDir())
	cfg.Stdin = strings.NewReader("from stdin\n")
	cfg.Stdout = &stdout
	cfg.Stderr = &stdout

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	module := &engine.Module{Name: "mod", Dir: t.TempDir()}

	if err := m.RunInteractive(context.Background(), nil, module, "cat; echo done", nil); err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}
	if got := stdout.String(); got != "from stdin\ndone\n" {
		t.Errorf("unexpected terminal output %q", got)
	}
}

func TestManager_FindServiceProcess(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	svc := testService(t, "api", "sleep 30")

	info, err := m.FindServiceProcess(ctx, nil, svc)
	if err != nil {
		t.Fatalf("FindServiceProcess() error = %v", err)
	}
	if info.Status != engine.ProcessStatusUnknown {
		t.Errorf("expected unknown without pid file, got %s", info.Status)
	}

	// A pid that already exited.
	done := exec.Command("true")
	if err := done.Run(); err != nil {
		t.Fatalf("failed to run true: %v", err)
	}
	if err := os.MkdirAll(m.runDir, 0o755); err != nil {
		t.Fatalf("failed to create run dir: %v", err)
	}
	if err := os.WriteFile(m.PIDFile("api"), []byte(strconv.Itoa(done.Process.Pid)), 0o644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	info, err = m.FindServiceProcess(ctx, nil, svc)
	if err != nil {
		t.Fatalf("FindServiceProcess() error = %v", err)
	}
	if info.Status != engine.ProcessStatusOffline {
		t.Errorf("expected offline for stale pid, got %s", info.Status)
	}

	if err := os.WriteFile(m.PIDFile("api"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}
	if _, err := m.FindServiceProcess(ctx, nil, svc); err == nil {
		t.Error("expected error for corrupt pid file")
	}
}

func TestManager_StartStop(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	svc := testService(t, "worker", "echo started; sleep 30")
	stopOnCleanup(t, m, svc)

	if err := m.StartAndWait(ctx, nil, svc, map[string]string{"MODE": "test"}); err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}

	info, err := m.FindServiceProcess(ctx, nil, svc)
	if err != nil {
		t.Fatalf("FindServiceProcess() error = %v", err)
	}
	if info.Status != engine.ProcessStatusOnline || info.PID == 0 {
		t.Fatalf("expected online with pid, got %+v", info)
	}

	// Starting again is a no-op.
	if err := m.StartAndWait(ctx, nil, svc, nil); err != nil {
		t.Fatalf("second StartAndWait() error = %v", err)
	}
	again, _ := m.FindServiceProcess(ctx, nil, svc)
	if again.PID != info.PID {
		t.Errorf("expected same pid %d, got %d", info.PID, again.PID)
	}

	if err := m.StopAndWait(ctx, nil, svc); err != nil {
		t.Fatalf("StopAndWait() error = %v", err)
	}
	if _, err := os.Stat(m.PIDFile("worker")); !os.IsNotExist(err) {
		t.Errorf("expected pid file to be removed, got %v", err)
	}
	info, _ = m.FindServiceProcess(ctx, nil, svc)
	if info.Status != engine.ProcessStatusUnknown {
		t.Errorf("expected unknown after stop, got %s", info.Status)
	}

	// Stopping a stopped service is a no-op.
	if err := m.StopAndWait(ctx, nil, svc); err != nil {
		t.Errorf("second StopAndWait() error = %v", err)
	}
}

func TestManager_StartWritesLogAndEnv(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	svc := testService(t, "envsvc", `echo "port=$PORT mode=$MODE"; touch ready; sleep 30`)
	svc.Spec.Port = 18080
	svc.Spec.HealthCheck = &engine.HealthCheck{Command: "test -f ready"}
	stopOnCleanup(t, m, svc)

	if err := m.StartAndWait(ctx, nil, svc, map[string]string{"MODE": "dev"}); err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}

	data, err := os.ReadFile(m.LogFile("envsvc"))
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), "port=18080 mode=dev") {
		t.Errorf("unexpected log %q", data)
	}
}

func TestManager_HealthCommandSeesStartEnv(t *testing.T) {
	m := setupTestManager(t)
	svc := testService(t, "dbsvc", "sleep 30")
	svc.Spec.Port = 15432
	svc.Spec.HealthCheck = &engine.HealthCheck{
		Command:  `test "$DATABASE_URL" = "postgres://localhost/app" && test "$PORT" = 15432`,
		Timeout:  time.Second,
		Interval: 50 * time.Millisecond,
	}
	stopOnCleanup(t, m, svc)

	env := map[string]string{"DATABASE_URL": "postgres://localhost/app"}
	if err := m.StartAndWait(context.Background(), nil, svc, env); err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}
}

func TestManager_StartHTTPHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	m := setupTestManager(t)
	svc := testService(t, "web", "sleep 30")
	svc.Spec.HealthCheck = &engine.HealthCheck{HTTP: server.URL + "/healthz"}
	stopOnCleanup(t, m, svc)

	if err := m.StartAndWait(context.Background(), nil, svc, nil); err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}
}

func TestManager_StartExitsBeforeHealthy(t *testing.T) {
	m := setupTestManager(t)
	svc := testService(t, "crash", "echo fatal; exit 3")
	svc.Spec.HealthCheck = &engine.HealthCheck{Command: "false"}

	err := m.StartAndWait(context.Background(), nil, svc, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), m.LogFile("crash")) {
		t.Errorf("expected error to mention the log file, got %v", err)
	}
	if _, statErr := os.Stat(m.PIDFile("crash")); !os.IsNotExist(statErr) {
		t.Errorf("expected pid file to be removed, got %v", statErr)
	}
}

func TestManager_StartHealthTimeout(t *testing.T) {
	m := setupTestManager(t)
	svc := testService(t, "slow", "sleep 30")
	svc.Spec.HealthCheck = &engine.HealthCheck{
		Command:  "false",
		Timeout:  300 * time.Millisecond,
		Interval: 50 * time.Millisecond,
	}
	stopOnCleanup(t, m, svc)

	err := m.StartAndWait(context.Background(), nil, svc, nil)
	if err == nil || !strings.Contains(err.Error(), "not healthy") {
		t.Fatalf("expected health timeout, got %v", err)
	}

	info, _ := m.FindServiceProcess(context.Background(), nil, svc)
	if info.Status == engine.ProcessStatusOnline {
		t.Error("expected unhealthy service to be stopped")
	}
}

func TestManager_StopEscalatesToKill(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "run"))
	cfg.StopTimeout = 200 * time.Millisecond
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	svc := testService(t, "stubborn", `trap "" TERM; touch armed; while true; do sleep 0.1; done`)
	svc.Spec.HealthCheck = &engine.HealthCheck{Command: "test -f armed"}
	ctx := context.Background()

	if err := m.StartAndWait(ctx, nil, svc, nil); err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}

	start := time.Now()
	if err := m.StopAndWait(ctx, nil, svc); err != nil {
		t.Fatalf("StopAndWait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.StopTimeout {
		t.Errorf("expected stop to wait for the timeout, took %v", elapsed)
	}
}

func TestManager_OnShutdownKeepsServices(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	svc := testService(t, "daemon", "sleep 30")
	stopOnCleanup(t, m, svc)

	if err := m.StartAndWait(ctx, nil, svc, nil); err != nil {
		t.Fatalf("StartAndWait() error = %v", err)
	}
	if err := m.OnShutdown(ctx); err != nil {
		t.Fatalf("OnShutdown() error = %v", err)
	}

	info, err := m.FindServiceProcess(ctx, nil, svc)
	if err != nil {
		t.Fatalf("FindServiceProcess() error = %v", err)
	}
	if info.Status != engine.ProcessStatusOnline {
		t.Errorf("expected service to survive shutdown, got %s", info.Status)
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	want := []string{"A=1", "B=3", "C=4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
