package engine

import (
	"testing"

	"github.com/loomctl/loom/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGraph_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	// Independent nodes come out in lexical order, deterministically.
	assert.Equal(t, []string{"null_resource.a", "null_resource.b", "null_resource.c"}, g.CreationOrder())
}

func TestBuildGraph_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 3)

	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildGraph_ImplicitRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "docker_container",
			Name:     "web",
			Provider: "docker",
			Attributes: ir.Attrs{
				"network": ir.String("ref://docker_network.backend/id"),
			},
		},
		{Type: "docker_network", Name: "backend", Provider: "docker"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 2)
	assert.Less(t, indexOf(order, "docker_network.backend"), indexOf(order, "docker_container.web"),
		"network should be created before container")
}

func TestBuildGraph_UnresolvedReference(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.ghost"}},
	}

	_, err := BuildGraph(resources)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "unresolved")
	assert.Contains(t, cfgErr.Error(), "null_resource.ghost")
}

func TestBuildGraph_UnresolvedImplicitRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "a",
			Provider: "null",
			Attributes: ir.Attrs{
				"target": ir.String("ref://null_resource.missing/id"),
			},
		},
	}

	_, err := BuildGraph(resources)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "null_resource.missing")
}

func TestBuildGraph_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.c"}},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
		{Type: "null_resource", Name: "free", Provider: "null"},
	}

	_, err := BuildGraph(resources)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "cycle")

	// The error names exactly the participating resources.
	assert.Equal(t, []string{"null_resource.a", "null_resource.b", "null_resource.c"}, cfgErr.Resources)
}

func TestBuildGraph_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	revOrder := g.DestructionOrder()
	require.Len(t, revOrder, 2)
	assert.Less(t, indexOf(revOrder, "null_resource.a"), indexOf(revOrder, "null_resource.b"),
		"a should be destroyed before b")
}

func TestBuildGraph_Deterministic(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "z", Provider: "null"},
		{Type: "null_resource", Name: "m", Provider: "null", DependsOn: []string{"null_resource.z"}},
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.z"}},
		{Type: "null_resource", Name: "q", Provider: "null"},
	}

	first, err := BuildGraph(resources)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		g, err := BuildGraph(resources)
		require.NoError(t, err)
		assert.Equal(t, first.CreationOrder(), g.CreationOrder())
	}
}

func TestBuildGraphFromState_ToleratesMissingDeps(t *testing.T) {
	records := []*ir.ResourceRecord{
		{Type: "null_resource", Name: "a", Dependencies: []string{"null_resource.gone"}},
		{Type: "null_resource", Name: "b", Dependencies: []string{"null_resource.a"}},
	}

	g, err := BuildGraphFromState(records)
	require.NoError(t, err)

	order := g.CreationOrder()
	assert.Less(t, indexOf(order, "null_resource.a"), indexOf(order, "null_resource.b"))
}

func TestTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "d", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	deps := g.TransitiveDeps("null_resource.c")
	assert.Equal(t, []string{"null_resource.a", "null_resource.b"}, deps)
	assert.Empty(t, g.TransitiveDeps("null_resource.d"))
}

func TestRefToAddr(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"ref://docker_network.backend/id", "docker_network.backend"},
		{"ref://null_resource.a/note", "null_resource.a"},
		{"not-a-ref", ""},
		{"ref://short", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, refToAddr(tt.ref))
		})
	}
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
