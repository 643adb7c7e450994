// Package provider defines the boundary between the reconciliation engine
// and the external systems it manages. A provider exposes CRUD-style
// operations per resource type plus schema metadata the planner needs to
// decide between in-place updates and replacement.
package provider

import (
	"context"

	"github.com/loomctl/loom/internal/ir"
)

// ResourceSchema describes planner-relevant metadata for one resource type.
type ResourceSchema struct {
	// ImmutableFields lists attribute names that cannot be changed in
	// place; a diff touching one of them forces replacement.
	ImmutableFields []string

	// CreateBeforeDestroy selects the default replacement strategy for
	// this type. Resource-level lifecycle settings override it.
	CreateBeforeDestroy bool

	// Version is the provider schema version stamped into state records.
	Version int
}

// Schema describes a provider and the resource types it manages.
type Schema struct {
	Name      string
	Resources map[string]ResourceSchema
}

// ReadResult is the outcome of reading a live resource.
type ReadResult struct {
	Exists     bool
	ID         string
	Attributes ir.Attrs
}

// Provider is implemented once per external system (cloud API, container
// runtime, ...). All calls are fallible remote calls; retry policy lives
// with the caller, not the planner.
type Provider interface {
	// Schema returns the provider's resource type metadata.
	Schema() Schema

	// Configure prepares the provider with backend-specific settings.
	// It must be safe to call more than once.
	Configure(ctx context.Context, settings map[string]string) error

	// Read fetches the live attributes of an existing resource.
	Read(ctx context.Context, typ, id string, prior ir.Attrs) (*ReadResult, error)

	// Create provisions a new resource and returns its external
	// identifier and resulting attributes.
	Create(ctx context.Context, typ, name string, desired ir.Attrs) (string, ir.Attrs, error)

	// Update changes an existing resource in place and returns the
	// resulting attributes.
	Update(ctx context.Context, typ, id string, prior, desired ir.Attrs) (ir.Attrs, error)

	// Delete removes an existing resource.
	Delete(ctx context.Context, typ, id string, prior ir.Attrs) error
}

// ResourceSchemaFor looks up the schema for one resource type, falling
// back to an empty schema for unknown types.
func (s Schema) ResourceSchemaFor(typ string) ResourceSchema {
	if rs, ok := s.Resources[typ]; ok {
		return rs
	}
	return ResourceSchema{}
}
