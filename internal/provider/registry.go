package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a fresh provider instance.
type Factory func() Provider

// Registry manages the lifecycle of providers. New providers register a
// factory rather than the engine special-casing types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// Register makes a provider available under the given name. Registering
// the same name twice replaces the factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Load instantiates a registered provider. Loading an already loaded
// provider is a no-op.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = factory()
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// Names returns the names of all registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
