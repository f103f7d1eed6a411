package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/modctl/modctl/pkg/config"
	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/process"
	"github.com/modctl/modctl/pkg/telemetry"
	"github.com/modctl/modctl/pkg/workspace"
)

// buildVersion is reported as the telemetry service version.
var buildVersion = "dev"

// app is everything one command needs: the workspace, telemetry and an
// orchestrator wired to the local process manager.
type app struct {
	ws     *workspace.Workspace
	tel    *telemetry.Telemetry
	procs  *process.Manager
	orch   *engine.Orchestrator
	closed bool
}

// newApp opens the workspace selected by the global flags.
func newApp(ctx context.Context) (*app, error) {
	ws, err := workspace.Open(ctx, rootDir, configPath)
	if err != nil {
		return nil, err
	}

	cfg := ws.Config
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Metrics.TextfilePath = config.ResolvePath(ws.Root, cfg.Metrics.TextfilePath)

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(buildVersion, ""))
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	ws.WithLogger(tel.Logger)

	procs, err := process.NewManager(process.Config{
		RunDir:         ws.RunDir(),
		HealthTimeout:  cfg.Health.Timeout,
		HealthInterval: cfg.Health.Interval,
		StopTimeout:    cfg.Health.StopTimeout,
	})
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	orch, err := engine.New(engine.Config{
		RootPath:  ws.Root,
		Discovery: ws,
		Saver:     ws,
		Processes: procs,
		Recorder:  ws.Recorder(),
		Telemetry: tel,
	})
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	log.Debug().Str("root", ws.Root).Str("state", cfg.State.Path).Msg("Workspace opened")

	return &app{ws: ws, tel: tel, procs: procs, orch: orch}, nil
}

// Close shuts the process manager and telemetry down and closes the store.
func (a *app) Close(ctx context.Context) {
	if a.closed {
		return
	}
	a.closed = true

	if err := a.orch.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Process manager shutdown failed")
	}
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if err := a.ws.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close state store")
	}
}

// withApp opens the app for cmd, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
