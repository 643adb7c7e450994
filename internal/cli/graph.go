package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Print the resource dependency graph in DOT format",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(args)
	if err != nil {
		return err
	}

	cfg, err := ws.loadConfig(ctx, nil)
	if err != nil {
		return err
	}

	resources, err := engine.ExpandResources(cfg.Resources)
	if err != nil {
		return err
	}
	g, err := engine.BuildGraph(resources)
	if err != nil {
		return err
	}

	fmt.Println("digraph resources {")
	fmt.Println("  rankdir = \"LR\";")
	for _, addr := range g.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
		for _, dep := range g.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	fmt.Println("}")
	return nil
}
