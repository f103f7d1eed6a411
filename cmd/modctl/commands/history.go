package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/modctl/modctl/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent operations",
		Long: `Show the run ledger: one entry per top-level operation with its outcome.
With a run id, show that run followed by the effects it applied.`,
		Example: `  # Last 20 operations
  modctl history

  # One run and its effects
  modctl history 6f1c2a9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					return printRun(ctx, a.ws.Store, args[0], limit)
				}
				if events {
					return printEvents(ctx, a.ws.Store, nil, limit)
				}
				return printRuns(ctx, a.ws.Store, limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&events, "events", false, "show effects of all runs")

	return cmd
}

func printRuns(ctx context.Context, store stores.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit, 0)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Printf("%s\n", text.FgYellow.Sprint("No runs recorded"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "OPERATION", "TARGET", "STATUS", "STARTED", "DURATION", "ERROR"})
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := ""
		if r.Error != nil {
			errMsg = truncate(*r.Error, 60)
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Operation,
			r.Target,
			runStatusText(r.Status),
			r.StartedAt.Local().Format(time.DateTime),
			duration,
			errMsg,
		})
	}
	t.Render()
	return nil
}

// printRun prints the ledger entry of one run followed by its effects.
func printRun(ctx context.Context, store stores.Store, id string, limit int) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		evts, err := store.GetEvents(ctx, &id, nil, limit, 0)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Run    *stores.Run     `json:"run"`
			Events []*stores.Event `json:"events"`
		}{run, evts})
	}

	fmt.Printf("Run %s: %s %s %s\n", run.ID, run.Operation, run.Target, runStatusText(run.Status))
	fmt.Printf("  started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Printf("  duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Printf("  error:    %s\n", text.FgRed.Sprint(*run.Error))
	}
	fmt.Println()
	return printEvents(ctx, store, &id, limit)
}

func printEvents(ctx context.Context, store stores.Store, runID *string, limit int) error {
	evts, err := store.GetEvents(ctx, runID, nil, limit, 0)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(evts)
	}
	if len(evts) == 0 {
		fmt.Printf("%s\n", text.FgYellow.Sprint("No effects recorded"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TIME", "LEVEL", "CHANGE", "DURATION", "MESSAGE"})
	for _, e := range evts {
		level := string(e.Level)
		if e.Level == stores.EventLevelError {
			level = text.FgRed.Sprint(level)
		}
		t.AppendRow(table.Row{
			e.Timestamp.Local().Format(time.DateTime),
			level,
			e.Change,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			truncate(e.Message, 60),
		})
	}
	t.Render()
	return nil
}

func runStatusText(s stores.RunStatus) string {
	switch s {
	case stores.RunStatusSucceeded:
		return text.FgGreen.Sprint(string(s))
	case stores.RunStatusFailed:
		return text.FgRed.Sprint(string(s))
	default:
		return text.FgYellow.Sprint(string(s))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
