package ir

import "fmt"

// Resource represents a single declared resource.
type Resource struct {
	Type       string            `json:"type"` // e.g. "docker_container"
	Name       string            `json:"name"`
	Provider   string            `json:"provider"`
	Lifecycle  *Lifecycle        `json:"lifecycle,omitempty"`
	DependsOn  []string          `json:"dependsOn,omitempty"`
	Count      int               `json:"count,omitempty"`
	ForEach    map[string]string `json:"forEach,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	Attributes Attrs             `json:"attributes"`
}

// Lifecycle carries per-resource behavior overrides.
type Lifecycle struct {
	CreateBeforeDestroy bool     `json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `json:"ignoreChanges,omitempty"`
}

// Address returns the unique address of the resource (type.name).
func (r *Resource) Address() string {
	return Address(r.Type, r.Name)
}

// Address builds a resource address from its type and name.
func Address(typ, name string) string {
	return fmt.Sprintf("%s.%s", typ, name)
}
