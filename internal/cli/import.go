package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomctl/loom/internal/ir"
)

var importProvider string

var importCmd = &cobra.Command{
	Use:   "import <address> <id>",
	Short: "Adopt an existing resource into state",
	Long: `Reads a resource that already exists outside of management and
records it in state under the given address. The next plan diffs it
against the configuration like any other resource.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importProvider, "provider", "", "Provider to import through (defaults to the address type prefix)")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr, id := args[0], args[1]

	typ, name, ok := strings.Cut(addr, ".")
	if !ok || typ == "" || name == "" {
		return fmt.Errorf("%q is not a valid address (want type.name)", addr)
	}

	provName := importProvider
	if provName == "" {
		provName = providerFromType(typ)
	}
	if provName == "" {
		return fmt.Errorf("cannot infer provider from type %q, use --provider", typ)
	}

	ws, err := setupWorkspace(nil)
	if err != nil {
		return err
	}

	if err := ws.registry.Load(provName); err != nil {
		return err
	}
	prov, err := ws.registry.Get(provName)
	if err != nil {
		return err
	}
	if pc, ok := ws.settings.Providers[provName]; ok {
		if err := prov.Configure(ctx, pc.Settings); err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", provName, err)
		}
	}

	if _, err := ws.manager.Lock(ctx, "import"); err != nil {
		return err
	}
	defer ws.manager.Unlock(ctx)

	s, err := ws.manager.Read(ctx)
	if err != nil {
		return err
	}
	if s.Resource(addr) != nil {
		return fmt.Errorf("a resource is already recorded at %s", addr)
	}

	result, err := prov.Read(ctx, typ, id, nil)
	if err != nil {
		return fmt.Errorf("failed to read %s %q: %w", typ, id, err)
	}
	if !result.Exists {
		return fmt.Errorf("no %s found with id %q", typ, id)
	}

	rec := &ir.ResourceRecord{
		Type:          typ,
		Name:          name,
		Provider:      provName,
		ID:            result.ID,
		Attributes:    result.Attributes,
		SchemaVersion: prov.Schema().ResourceSchemaFor(typ).Version,
	}
	if err := ws.manager.CommitResource(ctx, rec); err != nil {
		return err
	}

	fmt.Printf("Imported %s (id %s).\n", addr, rec.ID)
	fmt.Println("Run `loom plan` to see how it diffs against the configuration.")
	return nil
}
