package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Declarative infrastructure reconciliation",
	Long: `Loom reconciles declared resources against their recorded state.

It evaluates a PKL configuration into a resource graph, plans the
changes needed to reach the declared state, and applies them through
pluggable providers under an exclusive state lock.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(forceUnlockCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
