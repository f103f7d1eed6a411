package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeProcessManager records every call in order. Commands listed in fail
// return an error; outputs maps commands to captured output.
type fakeProcessManager struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]bool
	outputs  map[string]string
	startEnv map[string]map[string]string
	running  map[string]bool
}

func newFakeProcessManager() *fakeProcessManager {
	return &fakeProcessManager{
		fail:     make(map[string]bool),
		outputs:  make(map[string]string),
		startEnv: make(map[string]map[string]string),
		running:  make(map[string]bool),
	}
}

func (f *fakeProcessManager) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProcessManager) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProcessManager) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeProcessManager) StartAndWait(_ context.Context, _ *ExecutionContext, svc *Service, env map[string]string) error {
	f.record("start " + svc.Name)
	if f.fail["start "+svc.Name] {
		return errors.New("process exited")
	}
	f.mu.Lock()
	f.running[svc.Name] = true
	f.startEnv[svc.Name] = env
	f.mu.Unlock()
	return nil
}

func (f *fakeProcessManager) StopAndWait(_ context.Context, _ *ExecutionContext, svc *Service) error {
	f.record("stop " + svc.Name)
	f.mu.Lock()
	f.running[svc.Name] = false
	f.mu.Unlock()
	return nil
}

func (f *fakeProcessManager) FindServiceProcess(_ context.Context, _ *ExecutionContext, svc *Service) (ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, seen := f.running[svc.Name]
	switch {
	case !seen:
		return ProcessInfo{Status: ProcessStatusUnknown}, nil
	case running:
		return ProcessInfo{Status: ProcessStatusOnline, PID: 4242}, nil
	default:
		return ProcessInfo{Status: ProcessStatusOffline}, nil
	}
}

func (f *fakeProcessManager) Run(_ context.Context, _ *ExecutionContext, _ *Module, command string, _ map[string]string) (string, error) {
	f.record(command)
	if f.fail[command] {
		return "", errors.New("exit status 1")
	}
	return f.outputs[command], nil
}

func (f *fakeProcessManager) RunInteractive(_ context.Context, _ *ExecutionContext, _ *Module, command string, _ map[string]string) error {
	f.record(command)
	if f.fail[command] {
		return errors.New("exit status 1")
	}
	return nil
}

func (f *fakeProcessManager) OnShutdown(context.Context) error {
	return nil
}

// memoryStateSaver keeps a copy of every persisted state.
type memoryStateSaver struct {
	mu     sync.Mutex
	saves  int
	states map[string]ModuleState
	err    error
}

func newMemoryStateSaver() *memoryStateSaver {
	return &memoryStateSaver{states: make(map[string]ModuleState)}
}

func (s *memoryStateSaver) SaveState(_ context.Context, m *Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	state := m.State
	state.RanMigrations = append([]string(nil), m.State.RanMigrations...)
	s.states[m.Name] = state
	return nil
}

// staticDiscoverer hands out the same modules on every call so state
// changes survive between operations, like a persisted store would.
type staticDiscoverer struct {
	modules  []*Module
	internal []*Module
}

func (d *staticDiscoverer) DiscoverModules(context.Context, string) ([]*Module, error) {
	return d.modules, nil
}

func (d *staticDiscoverer) DiscoverInternalModules(context.Context, string) ([]*Module, error) {
	return d.internal, nil
}

// memoryRecorder keeps the run ledger in memory.
type memoryRecorder struct {
	runs    []RunRecord
	effects []EffectRecord
}

func (r *memoryRecorder) BeginRun(_ context.Context, run *RunRecord) error {
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memoryRecorder) EndRun(_ context.Context, run *RunRecord) error {
	for i := range r.runs {
		if r.runs[i].ID == run.ID {
			r.runs[i] = *run
		}
	}
	return nil
}

func (r *memoryRecorder) RecordEffect(_ context.Context, e *EffectRecord) error {
	r.effects = append(r.effects, *e)
	return nil
}

// newModule builds a module owning one service per name.
func newModule(name string, services ...string) *Module {
	m := &Module{Name: name, Dir: "/work/" + name}
	for _, s := range services {
		m.Services = append(m.Services, &Service{Name: s, Spec: ServiceSpec{Start: "./" + s}})
	}
	return m
}

func buildCmd(cmd string) *Runnable {
	r := Command(cmd)
	return &r
}

type testEnv struct {
	orch     *Orchestrator
	procs    *fakeProcessManager
	saver    *memoryStateSaver
	recorder *memoryRecorder
}

func setupOrchestrator(t testing.TB, modules ...*Module) *testEnv {
	t.Helper()

	env := &testEnv{
		procs:    newFakeProcessManager(),
		saver:    newMemoryStateSaver(),
		recorder: &memoryRecorder{},
	}
	orch, err := New(Config{
		RootPath:  "/work",
		Discovery: &staticDiscoverer{modules: modules},
		Saver:     env.saver,
		Processes: env.procs,
		Recorder:  env.recorder,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.orch = orch
	return env
}

func mustRegistry(t testing.TB, modules ...*Module) *Registry {
	t.Helper()
	r, err := NewRegistry(modules)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}
