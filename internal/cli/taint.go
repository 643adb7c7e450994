package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var taintCmd = &cobra.Command{
	Use:   "taint <address>",
	Short: "Mark a resource for recreation",
	Long: `Marks a recorded resource as tainted. The next plan proposes its
replacement regardless of attribute diffs.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaint,
}

var untaintCmd = &cobra.Command{
	Use:   "untaint <address>",
	Short: "Remove the taint mark from a resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntaint,
}

func runTaint(cmd *cobra.Command, args []string) error {
	if err := setTaint(cmd, args[0], true); err != nil {
		return err
	}
	fmt.Printf("Tainted %s. It will be replaced on the next apply.\n", args[0])
	return nil
}

func runUntaint(cmd *cobra.Command, args []string) error {
	if err := setTaint(cmd, args[0], false); err != nil {
		return err
	}
	fmt.Printf("Untainted %s.\n", args[0])
	return nil
}

func setTaint(cmd *cobra.Command, addr string, tainted bool) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "taint"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	s, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	rec := s.Resource(addr)
	if rec == nil {
		return fmt.Errorf("no resource at address %s", addr)
	}

	rec.Tainted = tainted
	return ws.manager.WriteState(ctx, s)
}
