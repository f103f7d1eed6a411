package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newValueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "value <service.provider>...",
		Short: "Resolve service values",
		Long: `Resolve one or more "<service>.<provider>" identifiers. Static values are
returned directly; provider runnables run after their module is built.

With one identifier the raw value is printed; with several, one
identifier=value line per identifier.`,
		Example: `  # Print the database URL
  modctl value db.dsn

  # Export several values
  modctl value db.dsn api.port`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 && !jsonOutput {
					v, err := a.orch.Value(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Println(v)
					return nil
				}

				refs := make(map[string]string, len(args))
				for _, id := range args {
					refs[id] = id
				}
				values, err := a.orch.Values(ctx, refs)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(values)
				}

				ids := append([]string(nil), args...)
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Printf("%s=%s\n", id, values[id])
				}
				return nil
			})
		},
	}

	return cmd
}
