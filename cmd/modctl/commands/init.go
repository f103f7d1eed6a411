package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/modctl/modctl/pkg/config"
	"github.com/modctl/modctl/pkg/workspace"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a modctl workspace",
		Long: `Initialize a workspace in the project root: create the .modctl directory,
create and migrate the state database and write a default modctl.yaml
unless one exists.`,
		Example: `  # Initialize the current directory
  modctl init

  # Initialize another project
  modctl init --root ~/src/shop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(rootDir)
			if err != nil {
				return fmt.Errorf("failed to resolve root: %w", err)
			}

			log.Info().Str("root", root).Msg("Initializing workspace")

			written, err := config.WriteDefaultWorkspace(root)
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", config.WorkspaceFile, err)
			}
			if written {
				fmt.Printf("✓ Created config file: %s\n", filepath.Join(root, config.WorkspaceFile))
			} else {
				fmt.Printf("✓ Config file already exists: %s\n", filepath.Join(root, config.WorkspaceFile))
			}

			cfg, err := config.LoadWorkspace(root, configPath)
			if err != nil {
				return err
			}

			runDir := config.ResolvePath(root, cfg.RunDir)
			if err := os.MkdirAll(runDir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", runDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", runDir)

			store, err := workspace.OpenStore(cmd.Context(), root, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("✓ Initialized state database: %s\n", store.Path())

			manifests, err := config.NewLoader(cfg.Manifests.Ignore, 0).FindManifests(root)
			if err != nil {
				return err
			}

			fmt.Printf("\n✅ Workspace initialized, %d module(s) found.\n\n", len(manifests))
			if len(manifests) == 0 {
				fmt.Printf("Next steps:\n")
				fmt.Printf("  1. Add a %s to each module directory\n", config.ManifestYAML)
				fmt.Printf("  2. List services:\n")
				fmt.Printf("     modctl list\n\n")
			}
			return nil
		},
	}

	return cmd
}
