package cli

import (
	"github.com/spf13/cobra"

	"github.com/agentx-labs/stackforge/internal/engine"
)

var checkNoDiff bool

func init() {
	checkCmd.Flags().BoolVar(&checkNoDiff, "no-diff", false, "List pending steps without file diffs")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show what setup would change",
	Long: `Plan without applying and print the diff of every pending step.

Exits 0 when the project is already configured, 1 when setup would change
something and 2 when detection needs a --with or --without decision.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, engine.ModeCheck, checkNoDiff)
	},
}
