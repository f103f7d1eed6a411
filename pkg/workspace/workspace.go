package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modctl/modctl/pkg/config"
	"github.com/modctl/modctl/pkg/stores"
	"github.com/modctl/modctl/pkg/telemetry"
)

// Workspace is one project root with its configuration and state store.
type Workspace struct {
	Root   string
	Config *config.WorkspaceConfig
	Store  stores.Store

	loader *config.Loader
	logger *telemetry.Logger
}

// Open loads the workspace configuration under root, opens the state
// database and brings its schema up to date. configPath may be empty.
func Open(ctx context.Context, root, configPath string) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	cfg, err := config.LoadWorkspace(root, configPath)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, root, cfg)
	if err != nil {
		return nil, err
	}

	return New(root, cfg, store), nil
}

// OpenStore opens and migrates the state database configured in cfg.
func OpenStore(ctx context.Context, root string, cfg *config.WorkspaceConfig) (*stores.SQLiteStore, error) {
	path := config.ResolvePath(root, cfg.State.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:        path,
		BusyTimeout: cfg.State.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state database %s: %w", path, err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("state database %s is not usable: %w", path, err)
	}
	return store, nil
}

// New creates a workspace from already loaded parts.
func New(root string, cfg *config.WorkspaceConfig, store stores.Store) *Workspace {
	return &Workspace{
		Root:   root,
		Config: cfg,
		Store:  store,
		loader: config.NewLoader(cfg.Manifests.Ignore, 0),
		logger: telemetry.NopLogger(),
	}
}

// WithLogger sets the logger used outside of an operation context.
func (w *Workspace) WithLogger(logger *telemetry.Logger) *Workspace {
	w.logger = logger.NewComponentLogger("workspace")
	return w
}

// Loader returns the manifest loader of the workspace.
func (w *Workspace) Loader() *config.Loader {
	return w.loader
}

// RunDir returns the absolute run directory.
func (w *Workspace) RunDir() string {
	return config.ResolvePath(w.Root, w.Config.RunDir)
}

// Recorder returns the run ledger backed by the workspace store.
func (w *Workspace) Recorder() *Recorder {
	return NewRecorder(w.Store)
}

// Close closes the state store.
func (w *Workspace) Close() error {
	return w.Store.Close()
}
