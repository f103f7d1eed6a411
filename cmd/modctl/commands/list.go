package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/modctl/modctl/pkg/config"
	"github.com/modctl/modctl/pkg/engine"
)

func newListCommand() *cobra.Command {
	var (
		watch bool
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List services and their status",
		Long: `List every service with its process status, build state and number of
pending migrations.

With --watch the table is printed again whenever a module manifest or the
workspace config changes, and the metrics endpoint is served when metrics
are enabled.`,
		Example: `  # One-off status
  modctl list

  # Keep watching manifests
  modctl list --watch`,
		Aliases: []string{"ls", "status"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := printStatus(ctx, a); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return watchStatus(ctx, a, delay)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render when manifests change")
	cmd.Flags().DurationVar(&delay, "debounce", 500*time.Millisecond, "delay coalescing manifest changes")

	return cmd
}

func printStatus(ctx context.Context, a *app) error {
	lines, err := a.orch.List(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(lines)
	}
	renderStatus(lines)
	return nil
}

func renderStatus(lines []engine.StatusLine) {
	if len(lines) == 0 {
		fmt.Printf("%s\n", text.FgYellow.Sprint("No services found"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("MODULE"),
		text.FgHiCyan.Sprint("SERVICE"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("PID"),
		text.FgHiCyan.Sprint("PORT"),
		text.FgHiCyan.Sprint("BUILT"),
		text.FgHiCyan.Sprint("PENDING"),
	})

	for _, l := range lines {
		module := l.Module
		if l.Internal {
			module += " (internal)"
		}
		t.AppendRow(table.Row{
			module,
			l.Service,
			statusText(l.Status),
			optionalInt(l.PID),
			optionalInt(l.Port),
			yesNo(l.Built),
			l.Pending,
		})
	}

	t.Render()
}

func statusText(s engine.ProcessStatus) string {
	switch s {
	case engine.ProcessStatusOnline:
		return text.FgGreen.Sprint(s.String())
	case engine.ProcessStatusOffline:
		return text.FgRed.Sprint(s.String())
	default:
		return text.FgHiBlack.Sprint(s.String())
	}
}

func optionalInt(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// watchStatus re-renders the status table on manifest changes until ctx is
// cancelled, serving metrics alongside.
func watchStatus(ctx context.Context, a *app, delay time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if m := a.tel.Config.Metrics; m.Enabled && m.ListenAddress != "" {
		g.Go(func() error {
			log.Info().Str("address", m.ListenAddress).Str("path", m.Path).Msg("Serving metrics")
			return a.tel.Metrics.ServeMetrics(ctx)
		})
	}

	changes := make(chan struct{}, 1)
	watcher := config.NewWatcher(a.ws.Root, a.ws.Loader(), delay, log.Logger)
	g.Go(func() error {
		defer close(changes)
		return watcher.Run(ctx, func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
	})

	g.Go(func() error {
		for range changes {
			fmt.Printf("\n%s %s\n", text.FgHiBlue.Sprint("Manifests changed at"), time.Now().Format(time.Kitchen))
			if err := printStatus(ctx, a); err != nil {
				// A broken manifest mid-edit is expected; keep watching.
				log.Error().Err(err).Msg("Failed to list services")
			}
		}
		return nil
	})

	return g.Wait()
}
