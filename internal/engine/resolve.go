package engine

import (
	"strings"

	"github.com/loomctl/loom/internal/ir"
)

// resolveAttrs substitutes ref:// references with values from the given
// record view. References to records not in the view are left as-is.
func resolveAttrs(attrs ir.Attrs, records map[string]*ir.ResourceRecord) ir.Attrs {
	out := make(ir.Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = resolveValue(v, records)
	}
	return out
}

func resolveValue(v ir.Value, records map[string]*ir.ResourceRecord) ir.Value {
	switch v.Kind() {
	case ir.KindString:
		s := v.AsString()
		if !strings.HasPrefix(s, "ref://") {
			return v
		}
		rec, ok := records[refToAddr(s)]
		if !ok {
			return v
		}
		_, attrPath, _ := strings.Cut(strings.TrimPrefix(s, "ref://"), "/")
		if attrPath == "id" {
			return ir.String(rec.ID)
		}
		if val, ok := rec.Attributes[attrPath]; ok {
			return val
		}
		return v
	case ir.KindList:
		items := v.AsList()
		out := make([]ir.Value, len(items))
		for i, item := range items {
			out[i] = resolveValue(item, records)
		}
		return ir.List(out...)
	case ir.KindMap:
		entries := v.AsMap()
		out := make(map[string]ir.Value, len(entries))
		for k, item := range entries {
			out[k] = resolveValue(item, records)
		}
		return ir.Map(out)
	default:
		return v
	}
}
