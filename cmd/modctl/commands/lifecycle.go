package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStartCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "start <service>",
		Short: "Start a service and its dependencies",
		Long: `Start a service after all of its transitive dependencies. Each service is
preceded by the build and the pending migrations of its module. Services
that are already running are left alone.`,
		Example: `  # Start the api and everything it depends on
  modctl start api

  # Show what would happen without doing it
  modctl start api --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if dryRun {
				steps, err := a.orch.Plan(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(steps)
				}
				for i, s := range steps {
					fmt.Printf("%3d. %s\n", i+1, s)
				}
				return nil
			}

			if err := a.orch.Start(ctx, args[0]); err != nil {
				return err
			}
			log.Info().Str("service", args[0]).Msg("Service started")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the staged changes without applying them")

	return cmd
}

// newServiceCommand builds a command applying op to one service.
func newServiceCommand(use, short, long, done string, op func(ctx context.Context, a *app, service string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := op(ctx, a, args[0]); err != nil {
					return err
				}
				log.Info().Str("service", args[0]).Msg(done)
				return nil
			})
		},
	}
}

func newStopCommand() *cobra.Command {
	return newServiceCommand("stop", "Stop a service",
		`Stop a service. Its dependencies and dependents keep running.`,
		"Service stopped",
		func(ctx context.Context, a *app, service string) error {
			return a.orch.Stop(ctx, service)
		})
}

func newBuildCommand() *cobra.Command {
	return newServiceCommand("build", "Build the module of a service",
		`Run the build action of the module owning the service, unless the module
is already built. Use "modctl reset" to force a rebuild.`,
		"Module built",
		func(ctx context.Context, a *app, service string) error {
			return a.orch.Build(ctx, service)
		})
}

func newMigrateCommand() *cobra.Command {
	return newServiceCommand("migrate", "Apply pending migrations of a service's module",
		`Apply the pending migrations of the module owning the service, in
lexicographic order of their ids. Each applied id is recorded right away,
so a failed batch resumes at the failing migration.`,
		"Migrations applied",
		func(ctx context.Context, a *app, service string) error {
			return a.orch.Migrate(ctx, service)
		})
}
