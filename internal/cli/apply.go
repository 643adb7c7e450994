package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom/internal/engine"
)

var (
	applyAutoApprove bool
	applyRefresh     bool
	applyTargets     []string
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply the changes required to reach the declared state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().BoolVar(&applyRefresh, "refresh", false, "Re-read live resources before diffing")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the run to a resource address (repeatable)")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(args)
	if err != nil {
		return err
	}

	cfg, err := ws.loadConfig(ctx, applyProperties)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "apply"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	current, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	plan, err := ws.engine.CreatePlan(ctx, cfg, current, engine.PlanOptions{
		Targets: applyTargets,
		Refresh: applyRefresh,
	})
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if plan.IsEmpty() {
		fmt.Println("No changes. Resources match the configuration.")
		return nil
	}

	fmt.Println("Loom will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	// First interrupt stops dispatching new changes; in-flight provider
	// calls finish and commit. A second interrupt kills the process.
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes))
	result, applyErr := ws.engine.Apply(runCtx, plan, current, ws.manager)
	renderApplyResult(result)

	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
