package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/modctl/modctl/pkg/telemetry"
)

var (
	// Global flags
	rootDir    string
	configPath string
	logLevel   string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// SetLogLevel sets the global zerolog level. Unknown levels mean info.
func SetLogLevel(level string) {
	zerolog.SetGlobalLevel(telemetry.ParseLevel(strings.ToLower(level)))
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modctl",
		Short: "modctl - local multi-service development environments",
		Long: `modctl discovers the modules of a project, builds them, applies their
migrations and starts their services in dependency order.

Every directory holding a module.yaml (or module.cue) is a module. Module
state (built flag, applied migrations) is kept in .modctl/state.db so work
is not repeated across invocations.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				SetLogLevel(logLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "workspace config file (default <root>/modctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newValueCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
