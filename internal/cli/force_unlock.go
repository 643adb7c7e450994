package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forceUnlockYes bool

var forceUnlockCmd = &cobra.Command{
	Use:   "force-unlock <lock-id>",
	Short: "Release a stale state lock",
	Long: `Removes the state lock with the given id regardless of holder.

Locks are never reclaimed automatically: if a run died without
releasing its lock, inspect the holder reported by the failing command
and release it here once you are sure the holder is gone.`,
	Args: cobra.ExactArgs(1),
	RunE: runForceUnlock,
}

func init() {
	forceUnlockCmd.Flags().BoolVar(&forceUnlockYes, "yes", false, "Skip confirmation")
}

func runForceUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lockID := args[0]

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if !forceUnlockYes {
		if !confirm(fmt.Sprintf("Forcibly release lock %s? Only do this if the holder is gone.", lockID)) {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := ws.manager.ForceUnlock(ctx, lockID); err != nil {
		return err
	}
	fmt.Printf("Lock %s released.\n", lockID)
	return nil
}
