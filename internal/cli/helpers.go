package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loomctl/loom/internal/config"
	"github.com/loomctl/loom/internal/engine"
	"github.com/loomctl/loom/internal/eval"
	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/logging"
	"github.com/loomctl/loom/internal/provider"
	"github.com/loomctl/loom/internal/state"
	"github.com/loomctl/loom/providers/docker"
	"github.com/loomctl/loom/providers/null"
)

var noColor bool

const timeRounding = 10 * time.Millisecond

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// workspace bundles everything a command needs: resolved project
// directory and entry point, workspace settings, the provider registry
// with builtins registered, the engine and the state manager.
type workspace struct {
	dir        string
	entryPoint string
	settings   *config.Settings
	registry   *provider.Registry
	engine     *engine.Engine
	manager    *state.Manager
	evaluator  *eval.Evaluator
}

// setupWorkspace resolves the project directory from args (a directory
// or a single .pkl file; defaults to the working directory and main.pkl)
// and wires up the standard component set.
func setupWorkspace(args []string) (*workspace, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint := "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}

	settings, err := config.Load(filepath.Join(wd, config.DefaultPath))
	if err != nil {
		return nil, err
	}
	logging.Init(settings.Log.Level, settings.Log.Format)

	backendCfg := settings.Backend
	if (backendCfg.Type == "local" || backendCfg.Type == "") && backendCfg.Path == "" {
		backendCfg.Path = filepath.Join(wd, state.DefaultLocalPath)
	}
	backend, err := state.NewBackend(backendCfg)
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry()
	registry.Register("null", null.New)
	registry.Register("docker", docker.New)

	eng := engine.NewEngine(registry)
	eng.Parallelism = settings.Parallelism

	return &workspace{
		dir:        wd,
		entryPoint: entryPoint,
		settings:   settings,
		registry:   registry,
		engine:     eng,
		manager:    state.NewManager(backend),
		evaluator:  eval.NewEvaluator(wd),
	}, nil
}

// loadConfig evaluates the configuration and configures every provider
// that has settings in the workspace config.
func (w *workspace) loadConfig(ctx context.Context, properties map[string]string) (*ir.Config, error) {
	cfg, err := w.evaluator.LoadConfig(ctx, filepath.Join(w.dir, w.entryPoint), properties)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for name, pc := range w.settings.Providers {
		if err := w.registry.Load(name); err != nil {
			return nil, err
		}
		prov, err := w.registry.Get(name)
		if err != nil {
			return nil, err
		}
		if err := prov.Configure(ctx, pc.Settings); err != nil {
			return nil, fmt.Errorf("failed to configure provider %s: %w", name, err)
		}
	}

	return cfg, nil
}

// providerFromType infers the provider name from a resource type
// prefix: docker_container -> docker, null_resource -> null.
func providerFromType(typ string) string {
	name, _, ok := strings.Cut(typ, "_")
	if !ok {
		return ""
	}
	return name
}

func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func actionColor(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return colorize("\033[32m")
	case ir.ActionDestroy:
		return colorize("\033[31m")
	case ir.ActionUpdate, ir.ActionReplace:
		return colorize("\033[33m")
	default:
		return ""
	}
}

func actionSymbol(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDestroy:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionUpdate:
		return "~"
	case ir.ActionRead:
		return "<="
	default:
		return " "
	}
}

func pastTense(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return "created"
	case ir.ActionUpdate:
		return "updated"
	case ir.ActionReplace:
		return "replaced"
	case ir.ActionDestroy:
		return "destroyed"
	case ir.ActionRead:
		return "refreshed in state"
	default:
		return string(action)
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	reset := colorize("\033[0m")
	for _, change := range plan.Changes {
		color := actionColor(change.Action)

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, pastTense(change.Action), reset)
		fmt.Printf("%s  %s %s {%s\n", color, actionSymbol(change.Action), change.Address, reset)
		renderAttributeDiff(change.Diff)
		fmt.Printf("%s    }%s\n", color, reset)
	}
}

func renderAttributeDiff(diff map[string]*ir.AttributeDiff) {
	reset := colorize("\033[0m")
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	// Stable output regardless of map iteration.
	sort.Strings(keys)

	for _, key := range keys {
		d := diff[key]
		switch d.Action {
		case "create":
			fmt.Printf("%s      + %s = %s%s\n", colorize("\033[32m"), key, d.After.GoString(), reset)
		case "delete":
			fmt.Printf("%s      - %s = %s%s\n", colorize("\033[31m"), key, d.Before.GoString(), reset)
		case "update":
			suffix := ""
			if d.ForcesReplacement {
				suffix = " # forces replacement"
			}
			fmt.Printf("%s      ~ %s = %s -> %s%s%s\n", colorize("\033[33m"), key, d.Before.GoString(), d.After.GoString(), suffix, reset)
		}
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  Destroy: %d\n", plan.Summary.Destroy)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
	if plan.Summary.Read > 0 {
		fmt.Printf("  Drifted: %d\n", plan.Summary.Read)
	}
}

// renderApplyResult prints per-resource outcomes and the final counts.
func renderApplyResult(result *engine.ApplyResult) {
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case engine.StatusApplied:
			fmt.Printf("%s%s: %s complete (%s)%s\n", colorize("\033[32m"), outcome.Address, outcome.Action, outcome.Duration.Round(timeRounding), colorize("\033[0m"))
		case engine.StatusFailed:
			fmt.Printf("%s%s: %s failed: %v%s\n", colorize("\033[31m"), outcome.Address, outcome.Action, outcome.Err, colorize("\033[0m"))
		case engine.StatusSkipped:
			fmt.Printf("%s: skipped (dependency failed or run cancelled)\n", outcome.Address)
		}
	}

	s := result.Summary
	fmt.Printf("\nApply complete. Resources: %d created, %d updated, %d replaced, %d destroyed", s.Created, s.Updated, s.Replaced, s.Destroyed)
	if s.Failed > 0 || s.Skipped > 0 {
		fmt.Printf(", %d failed, %d skipped", s.Failed, s.Skipped)
	}
	fmt.Println(".")
	if result.Cancelled {
		fmt.Println("Run was cancelled; completed changes were committed to state.")
	}
}
