package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the flowplane CLI root.
func NewRootCommand(version, commit, date string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "flowplane",
		Short: "Flowplane - versioned process plugin runtime",
		Long: `Flowplane hosts versioned process plugins behind a single execution
surface. Plugins are discovered from embedded, local and remote sources,
registered by (process_id, version), hot-reloaded on file changes, and
executed with permission gating, input validation and timeout enforcement.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.flowplane/config.json)")

	rootCmd.AddCommand(newRunCommand(&configPath))
	rootCmd.AddCommand(newPluginsCommand(&configPath))
	rootCmd.AddCommand(newDashboardCommand(&configPath))

	return rootCmd
}
