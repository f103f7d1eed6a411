package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <module> <runnable>",
		Short: "Run a named runnable of a module",
		Long: `Build the module if needed, then run one of its named runnables attached
to the terminal.`,
		Example: `  # Seed the development database
  modctl run api seed`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.orch.Run(ctx, args[0], args[1])
			})
		},
	}

	return cmd
}

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [service]",
		Short: "Print the service dependency graph",
		Long: `Print the service dependency graph in Graphviz DOT format. Nodes are
coloured by the last known process status.

With a service, print the services its start touches instead, one per line
in start order.`,
		Example: `  modctl graph | dot -Tsvg > deps.svg

  # What does starting api bring up?
  modctl graph api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					order, err := a.orch.StartOrder(ctx, args[0])
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(order)
					}
					for _, name := range order {
						fmt.Println(name)
					}
					return nil
				}
				dot, err := a.orch.Graph(ctx)
				if err != nil {
					return err
				}
				fmt.Print(dot)
				return nil
			})
		},
	}

	return cmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": buildDate,
				})
			}
			fmt.Printf("modctl %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
