package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/telemetry"
)

// Config configures a local process manager.
type Config struct {
	// RunDir holds pid and log files.
	RunDir string `validate:"required"`

	// HealthTimeout bounds the wait for a started service to become healthy
	// when its health check does not set one.
	HealthTimeout time.Duration `validate:"gte=0"`

	// HealthInterval is the default delay between health probes.
	HealthInterval time.Duration `validate:"gte=0"`

	// StopTimeout is how long a service gets to exit after SIGTERM.
	StopTimeout time.Duration `validate:"gte=0"`

	// Shell runs every command. Defaults to /bin/sh.
	Shell string

	// Terminal streams for interactive commands. Default to the process's own.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns the manager defaults for runDir.
func DefaultConfig(runDir string) Config {
	return Config{
		RunDir:         runDir,
		HealthTimeout:  30 * time.Second,
		HealthInterval: 500 * time.Millisecond,
		StopTimeout:    10 * time.Second,
		Shell:          "/bin/sh",
	}
}

// Manager implements engine.ProcessManager on the local machine.
type Manager struct {
	runDir         string
	healthTimeout  time.Duration
	healthInterval time.Duration
	stopTimeout    time.Duration
	shell          string
	stdin          io.Reader
	stdout         io.Writer
	stderr         io.Writer
	httpClient     *http.Client

	mu       sync.Mutex
	children map[string]*child
}

// child is a service process started by this manager. Done is closed once
// the process has been reaped.
type child struct {
	pid  int
	done chan struct{}
	err  error
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// NewManager creates a process manager. Zero durations take the defaults
// of DefaultConfig.
func NewManager(cfg Config) (*Manager, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid process manager config: %w", err)
	}

	def := DefaultConfig(cfg.RunDir)
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.Shell == "" {
		cfg.Shell = def.Shell
	}

	stdin := cfg.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	return &Manager{
		runDir:         cfg.RunDir,
		healthTimeout:  cfg.HealthTimeout,
		healthInterval: cfg.HealthInterval,
		stopTimeout:    cfg.StopTimeout,
		shell:          cfg.Shell,
		stdin:          stdin,
		stdout:         orDefault(cfg.Stdout, os.Stdout),
		stderr:         orDefault(cfg.Stderr, os.Stderr),
		httpClient:     &http.Client{},
		children:       make(map[string]*child),
	}, nil
}

// PIDFile returns the pid file path of a service.
func (m *Manager) PIDFile(service string) string {
	return filepath.Join(m.runDir, service+".pid")
}

// LogFile returns the log file path of a service.
func (m *Manager) LogFile(service string) string {
	return filepath.Join(m.runDir, service+".log")
}

// StartAndWait starts svc unless it is already running and waits for its
// health check. A service that never becomes healthy is stopped again.
func (m *Manager) StartAndWait(ctx context.Context, ec *engine.ExecutionContext, svc *engine.Service, env map[string]string) error {
	logger := telemetry.FromContext(ctx).WithService(svc.Name)

	info, err := m.FindServiceProcess(ctx, ec, svc)
	if err != nil {
		return err
	}
	if info.Status == engine.ProcessStatusOnline {
		logger.WithField("pid", info.PID).Debug("Service already running")
		return nil
	}

	env = serviceEnv(svc, env)
	c, err := m.spawn(svc, env)
	if err != nil {
		return err
	}
	logger.WithField("pid", c.pid).WithField("log", m.LogFile(svc.Name)).Info("Service started")

	if err := m.waitHealthy(ctx, svc, env, c); err != nil {
		if !c.exited() {
			if stopErr := m.terminate(ctx, svc.Name, c.pid); stopErr != nil {
				logger.WithError(stopErr).Warn("Failed to stop unhealthy service")
			}
		}
		_ = os.Remove(m.PIDFile(svc.Name))
		return err
	}

	logger.Debug("Service healthy")
	return nil
}

// serviceEnv adds PORT to env when svc declares a port. Values in env win.
func serviceEnv(svc *engine.Service, env map[string]string) map[string]string {
	merged := make(map[string]string, len(env)+1)
	if svc.Spec.Port > 0 {
		merged["PORT"] = strconv.Itoa(svc.Spec.Port)
	}
	for k, v := range env {
		merged[k] = v
	}
	return merged
}

func (m *Manager) spawn(svc *engine.Service, env map[string]string) (*child, error) {
	if err := os.MkdirAll(m.runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	logFile, err := os.OpenFile(m.LogFile(svc.Name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	// Not bound to ctx: services outlive the invocation that started them.
	// The shell leads the process group, which stop signals as a whole.
	cmd := exec.Command(m.shell, "-c", svc.Spec.Start)
	if svc.Module != nil {
		cmd.Dir = svc.Module.Dir
	}
	cmd.Env = mergeEnv(os.Environ(), withPWD(env, cmd.Dir))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start service %s: %w", svc.Name, err)
	}

	c := &child{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()

	if err := os.WriteFile(m.PIDFile(svc.Name), []byte(strconv.Itoa(c.pid)+"\n"), 0o644); err != nil {
		_ = signalGroup(c.pid, syscall.SIGKILL)
		<-c.done
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}

	m.mu.Lock()
	m.children[svc.Name] = c
	m.mu.Unlock()

	return c, nil
}

// StopAndWait stops svc with SIGTERM, escalating to SIGKILL after the stop
// timeout. A service that is not running is left alone.
func (m *Manager) StopAndWait(ctx context.Context, ec *engine.ExecutionContext, svc *engine.Service) error {
	logger := telemetry.FromContext(ctx).WithService(svc.Name)

	info, err := m.FindServiceProcess(ctx, ec, svc)
	if err != nil {
		return err
	}
	if info.Status != engine.ProcessStatusOnline {
		_ = os.Remove(m.PIDFile(svc.Name))
		logger.Debug("Service not running")
		return nil
	}

	if err := m.terminate(ctx, svc.Name, info.PID); err != nil {
		return err
	}
	if err := os.Remove(m.PIDFile(svc.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}

	m.mu.Lock()
	delete(m.children, svc.Name)
	m.mu.Unlock()

	logger.WithField("pid", info.PID).Info("Service stopped")
	return nil
}

// terminate sends SIGTERM to the process group of pid and SIGKILL when it
// is still alive after the stop timeout.
func (m *Manager) terminate(ctx context.Context, service string, pid int) error {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		return err
	}
	if m.waitExit(ctx, service, pid, m.stopTimeout) {
		return nil
	}

	telemetry.FromContext(ctx).WithService(service).WithField("pid", pid).
		Warn("Service ignored SIGTERM, killing")
	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		return err
	}
	if !m.waitExit(ctx, service, pid, m.stopTimeout) {
		return fmt.Errorf("service %s (pid %d) did not exit after SIGKILL", service, pid)
	}
	return nil
}

// waitExit reports whether pid exited within timeout.
func (m *Manager) waitExit(ctx context.Context, service string, pid int, timeout time.Duration) bool {
	c := m.tracked(service, pid)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c != nil {
			if c.exited() {
				return true
			}
		} else if !processAlive(pid) {
			return true
		}

		var done <-chan struct{}
		if c != nil {
			done = c.done
		}
		select {
		case <-done:
			return true
		case <-ticker.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// FindServiceProcess reads the pid file of svc. Without one the status is
// unknown; a recorded pid that is gone is offline.
func (m *Manager) FindServiceProcess(_ context.Context, _ *engine.ExecutionContext, svc *engine.Service) (engine.ProcessInfo, error) {
	pid, err := m.readPID(svc.Name)
	if errors.Is(err, os.ErrNotExist) {
		return engine.ProcessInfo{Status: engine.ProcessStatusUnknown}, nil
	}
	if err != nil {
		return engine.ProcessInfo{}, err
	}

	alive := processAlive(pid)
	if c := m.tracked(svc.Name, pid); c != nil {
		alive = !c.exited()
	}
	if !alive {
		return engine.ProcessInfo{Status: engine.ProcessStatusOffline}, nil
	}
	return engine.ProcessInfo{Status: engine.ProcessStatusOnline, PID: pid}, nil
}

func (m *Manager) readPID(service string) (int, error) {
	data, err := os.ReadFile(m.PIDFile(service))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file %s: %w", m.PIDFile(service), err)
	}
	return pid, nil
}

// tracked returns the child for service when this manager started pid.
func (m *Manager) tracked(service string, pid int) *child {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.children[service]; ok && c.pid == pid {
		return c
	}
	return nil
}

// Run executes command in the module directory and returns its stdout.
// Stderr is part of the error on failure.
func (m *Manager) Run(ctx context.Context, _ *engine.ExecutionContext, module *engine.Module, command string, env map[string]string) (string, error) {
	result, err := m.Exec(ctx, &ExecParams{
		Command: command,
		WorkDir: module.Dir,
		Env:     env,
		Capture: true,
	})
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// RunInteractive executes command attached to the terminal streams.
func (m *Manager) RunInteractive(ctx context.Context, _ *engine.ExecutionContext, module *engine.Module, command string, env map[string]string) error {
	logger := telemetry.FromContext(ctx).WithModule(module.Name)
	logger.WithField("command", command).Debug("Running command")

	result, err := m.Exec(ctx, &ExecParams{
		Command: command,
		WorkDir: module.Dir,
		Env:     env,
	})
	if err != nil {
		return err
	}
	logger.WithField("duration", result.Duration).Debug("Command finished")
	return nil
}

// OnShutdown forgets the services started by this manager. They keep
// running and are found again through their pid files.
func (m *Manager) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	n := len(m.children)
	m.children = make(map[string]*child)
	m.mu.Unlock()

	m.httpClient.CloseIdleConnections()
	telemetry.FromContext(ctx).WithField("services", n).Debug("Process manager shut down")
	return nil
}

var _ engine.ProcessManager = (*Manager)(nil)
