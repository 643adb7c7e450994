package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom/internal/engine"
)

var (
	planOutFile    string
	planRefresh    bool
	planTargets    []string
	planProperties map[string]string
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Show what changes would be applied",
	Long: `Compares the declared configuration against recorded state and
prints the ordered change sequence without mutating anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan as JSON to a file")
	planCmd.Flags().BoolVar(&planRefresh, "refresh", false, "Re-read live resources before diffing")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit the plan to a resource address (repeatable)")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (key=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(args)
	if err != nil {
		return err
	}

	cfg, err := ws.loadConfig(ctx, planProperties)
	if err != nil {
		return err
	}

	// Planning reads state, so it takes the lock too: a refresh must not
	// interleave with a concurrent apply.
	if _, err := ws.manager.Lock(ctx, "plan"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	current, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	plan, err := ws.engine.CreatePlan(ctx, cfg, current, planOptions())
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if plan.IsEmpty() {
		fmt.Println("No changes. Resources match the configuration.")
	} else {
		fmt.Println("Loom will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)
	}

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	return nil
}

func planOptions() engine.PlanOptions {
	return engine.PlanOptions{
		Targets: planTargets,
		Refresh: planRefresh,
	}
}
