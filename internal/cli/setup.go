package cli

import (
	"github.com/spf13/cobra"

	"github.com/agentx-labs/stackforge/internal/engine"
)

var setupNoDiff bool

func init() {
	setupCmd.Flags().BoolVar(&setupNoDiff, "no-diff", false, "Omit file diffs from the plan preview")
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install and configure tooling for the detected stack",
	Long: `Detect the project's ecosystems, plan the toolchain installs and configuration
files they need, then apply the plan. Running setup twice in a row is a no-op.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, engine.ModeSetup, setupNoDiff)
	},
}
