package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the recorded attributes of one resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Forget a resource without destroying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "state list"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	s, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version %d, serial %d, lineage %s\n\n", s.Version, s.Serial, s.Lineage)
	addrs := make([]string, 0, len(s.Resources))
	for _, rec := range s.Resources {
		addrs = append(addrs, rec.Address())
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		fmt.Println(addr)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := args[0]

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "state show"); err != nil {
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

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, dst := args[0], args[1]

	dstType, dstName, ok := strings.Cut(dst, ".")
	if !ok || dstType == "" || dstName == "" {
		return fmt.Errorf("destination %q is not a valid address (want type.name)", dst)
	}

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "state mv"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	s, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}

	rec := s.Resource(src)
	if rec == nil {
		return fmt.Errorf("no resource at address %s", src)
	}
	if rec.Type != dstType {
		return fmt.Errorf("cannot move %s to %s: the resource type must stay %s", src, dst, rec.Type)
	}
	if s.Resource(dst) != nil {
		return fmt.Errorf("a resource already exists at %s", dst)
	}

	moved := rec.Copy()
	moved.Name = dstName
	s.RemoveResource(src)
	s.SetResource(moved)

	if err := ws.manager.WriteState(ctx, s); err != nil {
		return err
	}
	fmt.Printf("Moved %s to %s.\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := args[0]

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if _, err := ws.manager.Lock(ctx, "state rm"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	s, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}
	if s.Resource(addr) == nil {
		return fmt.Errorf("no resource at address %s", addr)
	}

	if err := ws.manager.RemoveResource(ctx, addr); err != nil {
		return err
	}
	fmt.Printf("Removed %s from state. The live resource was not touched.\n", addr)
	return nil
}
