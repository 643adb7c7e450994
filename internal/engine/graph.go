package engine

import (
	"sort"
	"strings"

	"github.com/loomctl/loom/internal/ir"
)

// Graph is a directed acyclic dependency graph of resources. The node
// ordering is deterministic for identical input so repeated plans come
// out identical.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type graphNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildGraph constructs a dependency graph from declared resources. It
// resolves both explicit dependsOn entries and implicit ref:// references
// inside attribute values. Every reference must name a declared resource
// and the resulting graph must be acyclic; both violations are
// configuration errors.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		g.nodes[res.Address()] = &graphNode{addr: res.Address()}
	}

	var unresolved []string
	for _, res := range resources {
		addr := res.Address()
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				unresolved = append(unresolved, addr+" -> "+dep)
				continue
			}
			node.edges = append(node.edges, dep)
		}

		for _, ref := range extractRefs(res.Attributes) {
			depAddr := refToAddr(ref)
			if depAddr == "" || depAddr == addr {
				continue
			}
			if _, ok := g.nodes[depAddr]; !ok {
				unresolved = append(unresolved, addr+" -> "+depAddr)
				continue
			}
			node.edges = append(node.edges, depAddr)
		}

		node.edges = dedupSorted(node.edges)
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &ConfigError{
			Message:   "unresolved resource reference",
			Resources: unresolved,
		}
	}

	return g.finish()
}

// BuildGraphFromState constructs a dependency graph from state records,
// used to order destroys when the configuration no longer declares the
// resources. References to records missing from state are tolerated: the
// referenced object is already gone.
func BuildGraphFromState(records []*ir.ResourceRecord) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, rec := range records {
		g.nodes[rec.Address()] = &graphNode{addr: rec.Address()}
	}

	for _, rec := range records {
		node := g.nodes[rec.Address()]
		for _, dep := range rec.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			node.edges = append(node.edges, dep)
		}
		node.edges = dedupSorted(node.edges)
	}

	return g.finish()
}

func (g *Graph) finish() (*Graph, error) {
	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}
	for _, node := range g.nodes {
		node.revEdges = dedupSorted(node.revEdges)
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}

	return g, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse dependency order, safe
// for deletion (dependents before dependencies).
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of a node.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every dependency reachable from addr.
func (g *Graph) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(a string) {
		node, ok := g.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// topoSort is Kahn's algorithm with a lexically sorted ready queue, so
// topological ties always break the same way.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.edges)
	}

	var ready []string
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, addr)
		}
	}
	sort.Strings(ready)

	sorted := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		addr := ready[0]
		ready = ready[1:]
		sorted = append(sorted, addr)

		var released []string
		for _, dependent := range g.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	if len(sorted) != len(g.nodes) {
		var remaining []string
		for addr, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, addr)
			}
		}
		sort.Strings(remaining)
		return nil, &ConfigError{
			Message:   "dependency cycle detected in resource graph",
			Resources: remaining,
		}
	}

	return sorted, nil
}

// extractRefs extracts all ref:// references from an attribute value tree.
func extractRefs(attrs ir.Attrs) []string {
	var refs []string
	var walk func(v ir.Value)
	walk = func(v ir.Value) {
		switch v.Kind() {
		case ir.KindString:
			if strings.HasPrefix(v.AsString(), "ref://") {
				refs = append(refs, v.AsString())
			}
		case ir.KindList:
			for _, item := range v.AsList() {
				walk(item)
			}
		case ir.KindMap:
			for _, item := range v.AsMap() {
				walk(item)
			}
		}
	}
	for _, v := range attrs {
		walk(v)
	}
	return refs
}

// refToAddr converts a ref:// reference to a resource address.
// ref://docker_network.backend/id -> docker_network.backend
func refToAddr(ref string) string {
	path := strings.TrimPrefix(ref, "ref://")
	if path == ref {
		return ""
	}
	// Format: type.name/attribute
	addr, _, ok := strings.Cut(path, "/")
	if !ok || !strings.Contains(addr, ".") {
		return ""
	}
	return addr
}

func dedupSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
