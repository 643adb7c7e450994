package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom/internal/engine"
	"github.com/loomctl/loom/internal/ir"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Reconcile state with the live resources",
	Long: `Reads every recorded resource through its provider and updates
state to match reality. Resources that vanished outside of management
are dropped from state; drifted attributes are recorded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(args)
	if err != nil {
		return err
	}

	cfg, err := ws.loadConfig(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "refresh"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	current, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	plan, err := ws.engine.CreatePlan(ctx, cfg, current, engine.PlanOptions{Refresh: true})
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	// Only the drift is applied; planned config changes stay pending. A
	// create change for an address that is still recorded means the live
	// object vanished, so the stale record is dropped.
	drift := &ir.Plan{
		Metadata: plan.Metadata,
		Summary:  &ir.PlanSummary{},
		Changes:  []*ir.Change{},
	}
	removed := 0
	for _, change := range plan.Changes {
		switch change.Action {
		case ir.ActionRead:
			drift.Changes = append(drift.Changes, change)
			drift.Summary.Read++
		case ir.ActionCreate:
			if current.Resource(change.Address) != nil {
				if err := ws.manager.RemoveResource(ctx, change.Address); err != nil {
					return err
				}
				fmt.Printf("%s: vanished outside of management, removed from state\n", change.Address)
				removed++
			}
		}
	}

	if drift.IsEmpty() && removed == 0 {
		fmt.Println("State is up to date. No drift detected.")
		return nil
	}
	if drift.IsEmpty() {
		fmt.Printf("State refreshed: %d stale record(s) removed.\n", removed)
		return nil
	}

	result, applyErr := ws.engine.Apply(ctx, drift, current, ws.manager)
	renderApplyResult(result)
	if applyErr != nil {
		return fmt.Errorf("refresh failed: %w", applyErr)
	}

	fmt.Printf("State refreshed: %d resource(s) updated.\n", result.Summary.Refreshed)
	return nil
}
