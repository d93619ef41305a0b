// Package source defines the uniform adapter contract for external
// intelligence providers and the concrete adapters behind it. All
// provider-specific normalization lives here; downstream components only see
// normalized payloads and the shared error taxonomy.
package source

import (
	"context"
	"sync"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Adapter is the uniform per-provider fetch contract.
type Adapter interface {
	// Name returns the provider identifier used in results and config.
	Name() string
	// AppliesTo reports whether the provider covers the entity type.
	AppliesTo(t model.EntityType) bool
	// Discovers reports whether the provider may emit discovered sub-entities.
	Discovers() bool
	// Fetch queries the provider for one entity. Failures are returned as
	// *Error values carrying a Kind from the taxonomy.
	Fetch(ctx context.Context, entity model.Entity) (*model.SourcePayload, error)
}

// Registry manages the configured source adapters. Registration order is
// preserved so scheduling and reporting stay deterministic.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Re-registering a name replaces the adapter but
// keeps its original position.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.adapters[a.Name()]; !seen {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name, or nil if not registered.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// List returns all registered adapter names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// For returns the adapters applicable to an entity type, in registration order.
func (r *Registry) For(t model.EntityType) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Adapter
	for _, name := range r.order {
		if a := r.adapters[name]; a.AppliesTo(t) {
			out = append(out, a)
		}
	}
	return out
}
