package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom/internal/engine"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy every resource under management",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(args)
	if err != nil {
		return err
	}

	cfg, err := ws.loadConfig(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "destroy"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	current, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	plan, err := ws.engine.CreatePlan(ctx, cfg, current, engine.PlanOptions{Destroy: true})
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if plan.IsEmpty() {
		fmt.Println("Nothing to destroy. State holds no resources.")
		return nil
	}

	fmt.Println("Loom will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))
	result, applyErr := ws.engine.Apply(runCtx, plan, current, ws.manager)
	renderApplyResult(result)

	if applyErr != nil {
		return fmt.Errorf("destroy failed: %w", applyErr)
	}
	return nil
}
