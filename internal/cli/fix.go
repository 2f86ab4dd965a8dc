package cli

import (
	"github.com/spf13/cobra"

	"github.com/agentx-labs/stackforge/internal/engine"
)

var fixNoDiff bool

func init() {
	fixCmd.Flags().BoolVar(&fixNoDiff, "no-diff", false, "Omit file diffs from the plan preview")
	rootCmd.AddCommand(fixCmd)
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Rewrite drifted configuration files without installing packages",
	Long: `Apply only the file writes and hook registrations of the plan. Package
installs are reported as deferred; run setup to perform them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, engine.ModeFix, fixNoDiff)
	},
}
