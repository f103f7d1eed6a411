package commands

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [module]",
		Short: "Mark a module as not built",
		Long: `Clear the built flag of a module so that the next start, build or run
rebuilds it. Applied migrations are kept. With --all, every built module is reset.`,
		Example: `  modctl reset api

  # Rebuild everything on the next start
  modctl reset --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("specify either a module or --all")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if all {
					reset, err := a.ws.ResetAllBuilds(ctx)
					if err != nil {
						return err
					}
					log.Info().Strs("modules", reset).Msgf("%d module(s) marked as not built", len(reset))
					return nil
				}
				if err := a.ws.ResetBuild(ctx, args[0]); err != nil {
					return err
				}
				log.Info().Str("module", args[0]).Msg("Module marked as not built")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reset every built module")

	return cmd
}
