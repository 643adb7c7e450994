package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomctl/loom/internal/ir"
)

// ExpandResources flattens count and forEach declarations into individual
// resources and verifies that every resulting address is unique. It must
// run before graph construction.
func ExpandResources(resources []*ir.Resource) ([]*ir.Resource, error) {
	var expanded []*ir.Resource

	for _, res := range resources {
		switch {
		case res.Count > 0:
			for i := 0; i < res.Count; i++ {
				clone := cloneResource(res)
				clone.Name = fmt.Sprintf("%s[%d]", res.Name, i)
				clone.Count = 0
				clone.Attributes = substituteAttrs(clone.Attributes, map[string]string{
					"${count.index}": fmt.Sprintf("%d", i),
				})
				expanded = append(expanded, clone)
			}
		case len(res.ForEach) > 0:
			keys := make([]string, 0, len(res.ForEach))
			for k := range res.ForEach {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				clone := cloneResource(res)
				clone.Name = fmt.Sprintf("%s[%q]", res.Name, key)
				clone.ForEach = nil
				clone.Attributes = substituteAttrs(clone.Attributes, map[string]string{
					"${each.key}":   key,
					"${each.value}": res.ForEach[key],
				})
				expanded = append(expanded, clone)
			}
		default:
			expanded = append(expanded, res)
		}
	}

	seen := make(map[string]bool, len(expanded))
	var dups []string
	for _, res := range expanded {
		addr := res.Address()
		if seen[addr] {
			dups = append(dups, addr)
		}
		seen[addr] = true
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, &ConfigError{Message: "duplicate resource declaration", Resources: dups}
	}

	return expanded, nil
}

func cloneResource(res *ir.Resource) *ir.Resource {
	clone := &ir.Resource{
		Type:     res.Type,
		Name:     res.Name,
		Provider: res.Provider,
		Timeout:  res.Timeout,
		Count:    res.Count,
	}
	if res.Lifecycle != nil {
		clone.Lifecycle = &ir.Lifecycle{
			CreateBeforeDestroy: res.Lifecycle.CreateBeforeDestroy,
			PreventDestroy:      res.Lifecycle.PreventDestroy,
			IgnoreChanges:       append([]string(nil), res.Lifecycle.IgnoreChanges...),
		}
	}
	clone.DependsOn = append([]string(nil), res.DependsOn...)
	if res.ForEach != nil {
		clone.ForEach = make(map[string]string, len(res.ForEach))
		for k, v := range res.ForEach {
			clone.ForEach[k] = v
		}
	}
	clone.Attributes = res.Attributes.Copy()
	return clone
}

func substituteAttrs(attrs ir.Attrs, replacements map[string]string) ir.Attrs {
	out := make(ir.Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = substituteValue(v, replacements)
	}
	return out
}

func substituteValue(v ir.Value, replacements map[string]string) ir.Value {
	switch v.Kind() {
	case ir.KindString:
		s := v.AsString()
		for old, repl := range replacements {
			s = strings.ReplaceAll(s, old, repl)
		}
		return ir.String(s)
	case ir.KindList:
		items := v.AsList()
		out := make([]ir.Value, len(items))
		for i, item := range items {
			out[i] = substituteValue(item, replacements)
		}
		return ir.List(out...)
	case ir.KindMap:
		entries := v.AsMap()
		out := make(map[string]ir.Value, len(entries))
		for k, item := range entries {
			out[k] = substituteValue(item, replacements)
		}
		return ir.Map(out)
	default:
		return v
	}
}
