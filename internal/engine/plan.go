package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/logging"
	"github.com/loomctl/loom/internal/provider"
)

// Engine orchestrates planning and applying resource changes.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds concurrent provider calls during apply.
	Parallelism int
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: defaultParallelism,
	}
}

// PlanOptions select optional planning behavior.
type PlanOptions struct {
	// Targets restricts the plan to the given addresses plus their
	// transitive dependencies. Empty means everything.
	Targets []string

	// Refresh re-reads live attributes through providers before diffing
	// to detect drift. Without it the recorded state is trusted as
	// ground truth.
	Refresh bool

	// Destroy plans the removal of everything under management,
	// ignoring the declared configuration.
	Destroy bool
}

// CreatePlan compares the desired configuration against recorded state
// and produces an ordered change sequence. It performs no mutation: a
// plan that fails has changed nothing.
//
// Given identical configuration and state the resulting change sequence
// is identical, including its ordering.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State, opts PlanOptions) (*ir.Plan, error) {
	if opts.Destroy {
		cfg = &ir.Config{}
	}

	logging.Debug().
		Int("resources", len(cfg.Resources)).
		Int("state_resources", len(state.Resources)).
		Bool("refresh", opts.Refresh).
		Msg("creating plan")

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Lineage:   state.Lineage,
			Serial:    state.Serial,
			Refreshed: opts.Refresh,
		},
		Changes: []*ir.Change{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	resources, err := ExpandResources(cfg.Resources)
	if err != nil {
		return nil, err
	}

	if err := e.loadProviders(resources, state); err != nil {
		return nil, err
	}

	graph, err := BuildGraph(resources)
	if err != nil {
		return nil, err
	}

	// Work on a snapshot so refresh never touches the caller's state.
	working := state.Copy()
	if opts.Refresh {
		if err := e.refresh(ctx, working, plan); err != nil {
			return nil, err
		}
	}

	recordByAddr := make(map[string]*ir.ResourceRecord, len(working.Resources))
	for _, rec := range working.Resources {
		recordByAddr[rec.Address()] = rec
	}
	resourceByAddr := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		resourceByAddr[res.Address()] = res
	}

	targetSet := buildTargetSet(opts.Targets, graph)

	// Creates and updates, in dependency order. Dependencies are diffed
	// before their dependents, so replacements are known by the time a
	// referencing resource is considered.
	replaced := make(map[string]bool)
	for _, addr := range graph.CreationOrder() {
		res := resourceByAddr[addr]
		if targetSet != nil && !targetSet[addr] {
			continue
		}

		change, err := e.diffResource(res, recordByAddr[addr], recordByAddr, replaced)
		if err != nil {
			return nil, err
		}
		if change != nil && change.Action == ir.ActionReplace {
			replaced[addr] = true
		}
		if change == nil {
			plan.Summary.NoOp++
			continue
		}

		plan.Changes = append(plan.Changes, change)
		switch change.Action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		}
	}

	// Destroys: recorded resources no longer declared, in reverse
	// dependency order so dependents go before their dependencies.
	destroyed := make(map[string]bool)
	for _, rec := range working.Resources {
		addr := rec.Address()
		if _, declared := resourceByAddr[addr]; declared {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		destroyed[addr] = true
	}

	if len(destroyed) > 0 {
		stateGraph, err := BuildGraphFromState(working.Resources)
		if err != nil {
			return nil, err
		}
		for _, addr := range stateGraph.DestructionOrder() {
			if !destroyed[addr] {
				continue
			}
			rec := recordByAddr[addr]
			change := &ir.Change{
				Address: addr,
				Action:  ir.ActionDestroy,
				Prior:   rec,
				Diff:    destroyDiff(rec.Attributes),
			}
			// A destroy must wait for the destroys of everything
			// that depended on this record.
			for _, dependent := range stateGraph.nodes[addr].revEdges {
				if destroyed[dependent] {
					change.DependsOn = append(change.DependsOn, dependent)
				}
			}
			sort.Strings(change.DependsOn)
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Destroy++
		}
	}

	linkChangeDependencies(plan, graph)

	return plan, nil
}

// diffResource compares one declared resource against its record and
// returns the resulting change, or nil for a no-op. Desired attributes
// are resolved against recorded state first, so a reference whose target
// has not changed does not show up as a diff. A resource whose only tie
// to the plan is a reference to something being replaced still gets an
// update: its recorded value captured the old object. A tainted record
// forces replacement even when nothing else differs.
func (e *Engine) diffResource(res *ir.Resource, prior *ir.ResourceRecord, records map[string]*ir.ResourceRecord, replaced map[string]bool) (*ir.Change, error) {
	if prior == nil {
		return &ir.Change{
			Address: res.Address(),
			Action:  ir.ActionCreate,
			Desired: res,
			Diff:    createDiff(res.Attributes),
		}, nil
	}

	var ignore []string
	if res.Lifecycle != nil {
		ignore = res.Lifecycle.IgnoreChanges
	}
	diff := diffAttrs(prior.Attributes, resolveAttrs(res.Attributes, records), ignore)
	if len(diff) == 0 {
		diff = repointDiff(res, prior, replaced)
	}
	if len(diff) == 0 && !prior.Tainted {
		return nil, nil
	}

	prov, err := e.registry.Get(res.Provider)
	if err != nil {
		return nil, err
	}
	schema := prov.Schema().ResourceSchemaFor(res.Type)

	action := ir.ActionUpdate
	for _, field := range schema.ImmutableFields {
		if d, ok := diff[field]; ok {
			d.ForcesReplacement = true
			action = ir.ActionReplace
		}
	}
	if prior.Tainted {
		action = ir.ActionReplace
	}

	if res.Lifecycle != nil && res.Lifecycle.PreventDestroy && action == ir.ActionReplace {
		return nil, &ConfigError{
			Message:   "resource has preventDestroy set but the plan requires replacement",
			Resources: []string{res.Address()},
		}
	}

	cbd := schema.CreateBeforeDestroy
	if res.Lifecycle != nil && res.Lifecycle.CreateBeforeDestroy {
		cbd = true
	}

	return &ir.Change{
		Address:             res.Address(),
		Action:              action,
		Desired:             res,
		Prior:               prior,
		Diff:                diff,
		CreateBeforeDestroy: cbd,
	}, nil
}

// refresh re-reads live attributes for every record and folds them into
// the working state. Records whose live object is gone are dropped so
// the diff proposes recreation. Detected drift is surfaced as read
// changes in the plan.
func (e *Engine) refresh(ctx context.Context, working *ir.State, plan *ir.Plan) error {
	records := append([]*ir.ResourceRecord(nil), working.Resources...)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Address() < records[j].Address()
	})

	for _, rec := range records {
		prov, err := e.registry.Get(rec.Provider)
		if err != nil {
			return err
		}

		result, err := prov.Read(ctx, rec.Type, rec.ID, rec.Attributes)
		if err != nil {
			return &ProviderError{Address: rec.Address(), Operation: "read", Err: err}
		}

		if !result.Exists {
			logging.Warn().Str("address", rec.Address()).Msg("resource vanished outside of management")
			working.RemoveResource(rec.Address())
			continue
		}

		if !rec.Attributes.Equal(result.Attributes) {
			plan.Changes = append(plan.Changes, &ir.Change{
				Address: rec.Address(),
				Action:  ir.ActionRead,
				Prior:   rec,
				Diff:    diffAttrs(rec.Attributes, result.Attributes, nil),
			})
			plan.Summary.Read++
			rec.Attributes = result.Attributes
		}
		if result.ID != "" {
			rec.ID = result.ID
		}
	}

	// Drifted attributes were folded into the read changes' records;
	// re-point them at the refreshed copies.
	for _, change := range plan.Changes {
		if change.Action == ir.ActionRead {
			if rec := working.Resource(change.Address); rec != nil {
				change.Prior = rec
			}
		}
	}

	return nil
}

func (e *Engine) loadProviders(resources []*ir.Resource, state *ir.State) error {
	for _, res := range resources {
		if err := e.registry.Load(res.Provider); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	// Providers for recorded resources are needed for destroy and refresh.
	for _, rec := range state.Resources {
		if err := e.registry.Load(rec.Provider); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", rec.Provider, err)
		}
	}
	return nil
}

func buildTargetSet(targets []string, graph *Graph) map[string]bool {
	if len(targets) == 0 {
		return nil
	}
	set := make(map[string]bool)
	for _, t := range targets {
		set[t] = true
		for _, dep := range graph.TransitiveDeps(t) {
			set[dep] = true
		}
	}
	return set
}

// linkChangeDependencies fills DependsOn on create/update/replace changes
// with the subset of their graph dependencies that also appear in the plan.
func linkChangeDependencies(plan *ir.Plan, graph *Graph) {
	pending := make(map[string]bool, len(plan.Changes))
	for _, c := range plan.Changes {
		if c.Action == ir.ActionCreate || c.Action == ir.ActionUpdate || c.Action == ir.ActionReplace {
			pending[c.Address] = true
		}
	}
	for _, c := range plan.Changes {
		if c.Action != ir.ActionCreate && c.Action != ir.ActionUpdate && c.Action != ir.ActionReplace {
			continue
		}
		for _, dep := range graph.Dependencies(c.Address) {
			c.Dependencies = append(c.Dependencies, dep)
			if pending[dep] {
				c.DependsOn = append(c.DependsOn, dep)
			}
		}
		sort.Strings(c.DependsOn)
		sort.Strings(c.Dependencies)
	}
}

// repointDiff marks attributes that reference a resource being replaced
// in the same plan. The recorded value captured the prior object, so the
// dependent is updated after the replacement and re-resolves the
// reference against the successor.
func repointDiff(res *ir.Resource, prior *ir.ResourceRecord, replaced map[string]bool) map[string]*ir.AttributeDiff {
	if len(replaced) == 0 {
		return nil
	}

	diff := make(map[string]*ir.AttributeDiff)
	for k, v := range res.Attributes {
		repoint := false
		for _, ref := range extractRefs(ir.Attrs{k: v}) {
			if replaced[refToAddr(ref)] {
				repoint = true
				break
			}
		}
		if !repoint {
			continue
		}
		before, ok := prior.Attributes[k]
		if !ok {
			before = ir.Null()
		}
		diff[k] = &ir.AttributeDiff{Before: before, After: v, Action: "update"}
	}
	return diff
}

// diffAttrs compares prior and desired attributes, skipping ignored names.
func diffAttrs(prior, desired ir.Attrs, ignore []string) map[string]*ir.AttributeDiff {
	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	diff := make(map[string]*ir.AttributeDiff)
	allKeys := make(map[string]bool, len(prior)+len(desired))
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		if ignored[k] {
			continue
		}
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.AttributeDiff{Before: ir.Null(), After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.AttributeDiff{Before: priorVal, After: ir.Null(), Action: "delete"}
		case !priorVal.Equal(desiredVal):
			diff[k] = &ir.AttributeDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func createDiff(attrs ir.Attrs) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{Before: ir.Null(), After: v, Action: "create"}
	}
	return diff
}

func destroyDiff(attrs ir.Attrs) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{Before: v, After: ir.Null(), Action: "delete"}
	}
	return diff
}
