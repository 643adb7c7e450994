// Package null implements a provider with no external side effects.
// Its resources exist only in state, which makes it useful for wiring
// dependencies, carrying trigger values and exercising the engine in tests.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomctl/loom/internal/ir"
	"github.com/loomctl/loom/internal/provider"
)

const resourceType = "null_resource"

type Provider struct {
	mu      sync.Mutex
	serial  int
	deleted map[string]bool
}

func New() provider.Provider {
	return &Provider{deleted: make(map[string]bool)}
}

func (p *Provider) Schema() provider.Schema {
	return provider.Schema{
		Name: "null",
		Resources: map[string]provider.ResourceSchema{
			resourceType: {
				// Changing a trigger means the resource must be recreated.
				ImmutableFields: []string{"triggers"},
				Version:         1,
			},
		},
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (p *Provider) Read(ctx context.Context, typ, id string, prior ir.Attrs) (*provider.ReadResult, error) {
	if typ != resourceType {
		return nil, fmt.Errorf("unsupported resource type: %s", typ)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted[id] {
		return &provider.ReadResult{Exists: false}, nil
	}
	return &provider.ReadResult{
		Exists:     true,
		ID:         id,
		Attributes: prior.Copy(),
	}, nil
}

func (p *Provider) Create(ctx context.Context, typ, name string, desired ir.Attrs) (string, ir.Attrs, error) {
	if typ != resourceType {
		return "", nil, fmt.Errorf("unsupported resource type: %s", typ)
	}
	p.mu.Lock()
	p.serial++
	id := fmt.Sprintf("null-%s-%d", name, p.serial)
	p.mu.Unlock()

	return id, desired.Copy(), nil
}

func (p *Provider) Update(ctx context.Context, typ, id string, prior, desired ir.Attrs) (ir.Attrs, error) {
	if typ != resourceType {
		return nil, fmt.Errorf("unsupported resource type: %s", typ)
	}
	return desired.Copy(), nil
}

func (p *Provider) Delete(ctx context.Context, typ, id string, prior ir.Attrs) error {
	if typ != resourceType {
		return fmt.Errorf("unsupported resource type: %s", typ)
	}
	p.mu.Lock()
	p.deleted[id] = true
	p.mu.Unlock()
	return nil
}
