package engine

import (
	"context"
	"testing"

	"github.com/loomctl/loom/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePlan_AllNew(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("a"),
		}, DependsOn: []string{"fake_thing.db"}},
		{Type: "fake_thing", Name: "db", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("a"),
		}},
	}}

	plan, err := engine.CreatePlan(context.Background(), cfg, ir.NewState(), PlanOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "fake_thing.db", plan.Changes[0].Address)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, "fake_thing.web", plan.Changes[1].Address)
	assert.Equal(t, ir.ActionCreate, plan.Changes[1].Action)
	assert.Equal(t, []string{"fake_thing.db"}, plan.Changes[1].DependsOn)
	assert.Equal(t, 2, plan.Summary.Create)
	assert.False(t, plan.IsEmpty())
}

func TestCreatePlan_NoChanges(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	attrs := ir.Attrs{"zone": ir.String("a"), "size": ir.Int(2)}
	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: attrs},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "web", "web-1", attrs))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)

	assert.Empty(t, plan.Changes)
	assert.True(t, plan.IsEmpty())
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestCreatePlan_Update(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("a"),
			"size": ir.Int(4),
		}},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "web", "web-1", ir.Attrs{
		"zone": ir.String("a"),
		"size": ir.Int(2),
	}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionUpdate, change.Action)
	require.Contains(t, change.Diff, "size")
	assert.Equal(t, ir.Int(2), change.Diff["size"].Before)
	assert.Equal(t, ir.Int(4), change.Diff["size"].After)
	assert.NotContains(t, change.Diff, "zone")
	assert.Equal(t, 1, plan.Summary.Update)
}

func TestCreatePlan_ImmutableFieldForcesReplace(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("b"),
		}},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "web", "web-1", ir.Attrs{
		"zone": ir.String("a"),
	}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionReplace, change.Action)
	require.Contains(t, change.Diff, "zone")
	assert.True(t, change.Diff["zone"].ForcesReplacement)
	assert.False(t, change.CreateBeforeDestroy)
	assert.Equal(t, 1, plan.Summary.Replace)
}

func TestCreatePlan_TaintedForcesReplace(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("a"),
		}},
	}}
	state := ir.NewState()
	rec := prov.seed("fake_thing", "web", "web-1", ir.Attrs{"zone": ir.String("a")})
	rec.Tainted = true
	state.SetResource(rec)

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.Equal(t, 1, plan.Summary.Replace)
}

func TestCreatePlan_SchemaCreateBeforeDestroy(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_service", Name: "api", Provider: "fake", Attributes: ir.Attrs{
			"image": ir.String("v2"),
		}},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_service", "api", "api-1", ir.Attrs{
		"image": ir.String("v1"),
	}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.True(t, plan.Changes[0].CreateBeforeDestroy)
}

func TestCreatePlan_PreventDestroyBlocksReplace(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake",
			Lifecycle:  &ir.Lifecycle{PreventDestroy: true},
			Attributes: ir.Attrs{"zone": ir.String("b")}},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "web", "web-1", ir.Attrs{
		"zone": ir.String("a"),
	}))

	_, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"fake_thing.web"}, cfgErr.Resources)
}

func TestCreatePlan_IgnoreChanges(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake",
			Lifecycle:  &ir.Lifecycle{IgnoreChanges: []string{"size"}},
			Attributes: ir.Attrs{"zone": ir.String("a"), "size": ir.Int(8)}},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "web", "web-1", ir.Attrs{
		"zone": ir.String("a"), "size": ir.Int(2),
	}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestCreatePlan_DestroyUndeclared(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	state := ir.NewState()
	web := prov.seed("fake_thing", "web", "web-1", ir.Attrs{"zone": ir.String("a")})
	web.Dependencies = []string{"fake_thing.db"}
	state.SetResource(web)
	state.SetResource(prov.seed("fake_thing", "db", "db-1", ir.Attrs{"zone": ir.String("a")}))

	plan, err := engine.CreatePlan(context.Background(), &ir.Config{}, state, PlanOptions{})
	require.NoError(t, err)

	// Dependent is destroyed before its dependency.
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "fake_thing.web", plan.Changes[0].Address)
	assert.Equal(t, ir.ActionDestroy, plan.Changes[0].Action)
	assert.Equal(t, "fake_thing.db", plan.Changes[1].Address)
	assert.Equal(t, ir.ActionDestroy, plan.Changes[1].Action)
	assert.Equal(t, []string{"fake_thing.web"}, plan.Changes[1].DependsOn)
	assert.Equal(t, 2, plan.Summary.Destroy)
}

func TestCreatePlan_DestroyOption(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{"zone": ir.String("a")}},
	}}
	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "web", "web-1", ir.Attrs{"zone": ir.String("a")}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{Destroy: true})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionDestroy, plan.Changes[0].Action)
}

func TestCreatePlan_RefreshDrift(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	// Recorded size is stale; the live object says 8.
	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("a"), "size": ir.Int(8),
		}},
	}}
	state := ir.NewState()
	rec := prov.seed("fake_thing", "web", "web-1", ir.Attrs{
		"zone": ir.String("a"), "size": ir.Int(8),
	})
	rec.Attributes = ir.Attrs{"zone": ir.String("a"), "size": ir.Int(2)}
	state.SetResource(rec)

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{Refresh: true})
	require.NoError(t, err)

	// Drift is surfaced as a read change and folded into the diff base,
	// so no update is planned on top of it.
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionRead, plan.Changes[0].Action)
	assert.Equal(t, 1, plan.Summary.Read)
	assert.Equal(t, 0, plan.Summary.Update)
	assert.Equal(t, ir.Int(8), plan.Changes[0].Prior.Attributes["size"])

	// The caller's state is untouched.
	assert.Equal(t, ir.Int(2), state.Resource("fake_thing.web").Attributes["size"])
}

func TestCreatePlan_RefreshVanished(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{"zone": ir.String("a")}},
	}}
	state := ir.NewState()
	state.SetResource(&ir.ResourceRecord{
		Type: "fake_thing", Name: "web", Provider: "fake", ID: "gone-1",
		Attributes: ir.Attrs{"zone": ir.String("a")},
	})

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{Refresh: true})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
}

func TestCreatePlan_Targets(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "a", Provider: "fake"},
		{Type: "fake_thing", Name: "b", Provider: "fake", DependsOn: []string{"fake_thing.a"}},
		{Type: "fake_thing", Name: "c", Provider: "fake"},
	}}

	plan, err := engine.CreatePlan(context.Background(), cfg, ir.NewState(), PlanOptions{
		Targets: []string{"fake_thing.b"},
	})
	require.NoError(t, err)

	// Target plus its transitive dependencies, nothing else.
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "fake_thing.a", plan.Changes[0].Address)
	assert.Equal(t, "fake_thing.b", plan.Changes[1].Address)
}

func TestCreatePlan_ResolvedRefIsIdempotent(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "db", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("a"),
		}},
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone":    ir.String("a"),
			"backend": ir.String("ref://fake_thing.db/id"),
		}},
	}}

	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "db", "db-1", ir.Attrs{"zone": ir.String("a")}))
	// The web record holds the value the reference resolved to at apply.
	state.SetResource(prov.seed("fake_thing", "web", "web-1", ir.Attrs{
		"zone":    ir.String("a"),
		"backend": ir.String("db-1"),
	}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty(), "unchanged reference must not produce a diff")
}

func TestCreatePlan_ReplaceRepointsDependents(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "db", Provider: "fake", Attributes: ir.Attrs{
			"zone": ir.String("b"),
		}},
		{Type: "fake_thing", Name: "web", Provider: "fake", Attributes: ir.Attrs{
			"zone":    ir.String("a"),
			"backend": ir.String("ref://fake_thing.db/id"),
		}},
	}}

	state := ir.NewState()
	state.SetResource(prov.seed("fake_thing", "db", "db-old", ir.Attrs{"zone": ir.String("a")}))
	state.SetResource(prov.seed("fake_thing", "web", "web-old", ir.Attrs{
		"zone":    ir.String("a"),
		"backend": ir.String("db-old"),
	}))

	plan, err := engine.CreatePlan(context.Background(), cfg, state, PlanOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "fake_thing.db", plan.Changes[0].Address)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)

	// web's own attributes are unchanged, but its recorded backend value
	// captured the old db object: it is updated after the replacement.
	web := plan.Changes[1]
	assert.Equal(t, "fake_thing.web", web.Address)
	assert.Equal(t, ir.ActionUpdate, web.Action)
	require.Contains(t, web.Diff, "backend")
	assert.Equal(t, []string{"fake_thing.db"}, web.DependsOn)
}

func TestCreatePlan_Deterministic(t *testing.T) {
	prov := newFakeProvider()
	engine := NewEngine(registryWith(prov))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "fake_thing", Name: "z", Provider: "fake"},
		{Type: "fake_thing", Name: "m", Provider: "fake"},
		{Type: "fake_thing", Name: "a", Provider: "fake"},
	}}

	first, err := engine.CreatePlan(context.Background(), cfg, ir.NewState(), PlanOptions{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		plan, err := engine.CreatePlan(context.Background(), cfg, ir.NewState(), PlanOptions{})
		require.NoError(t, err)
		require.Len(t, plan.Changes, len(first.Changes))
		for j := range plan.Changes {
			assert.Equal(t, first.Changes[j].Address, plan.Changes[j].Address)
			assert.Equal(t, first.Changes[j].Action, plan.Changes[j].Action)
		}
	}
}

func TestCreatePlan_UnknownProvider(t *testing.T) {
	engine := NewEngine(registryWith(newFakeProvider()))

	cfg := &ir.Config{Resources: []*ir.Resource{
		{Type: "mystery_box", Name: "x", Provider: "mystery"},
	}}

	_, err := engine.CreatePlan(context.Background(), cfg, ir.NewState(), PlanOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}
