// Package engine implements the resilient multi-provider orchestration core:
// the provider registry, health tracking, scoring-based selection, the
// execution cascade, and the idempotent result cache.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

// Registry is the load-once catalog of providers per capability. It is
// populated at startup and treated as immutable afterwards; all runtime
// mutation lives in the health tracker.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]domain.Provider
	byCap map[domain.Capability][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]domain.Provider),
		byCap: make(map[domain.Capability][]string),
	}
}

// Register adds a provider to the catalog. Duplicate ids and missing
// required metadata fail with domain.ErrConfig.
func (r *Registry) Register(p domain.Provider) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("op=registry.Register: provider id empty: %w", domain.ErrConfig)
	}
	if p.Capability == "" {
		return "", fmt.Errorf("op=registry.Register: provider %s missing capability: %w", p.ID, domain.ErrConfig)
	}
	if p.Priority < 1 {
		return "", fmt.Errorf("op=registry.Register: provider %s priority %d must be >= 1: %w", p.ID, p.Priority, domain.ErrConfig)
	}
	if p.BaseQuality < 0 || p.BaseQuality > 1 {
		return "", fmt.Errorf("op=registry.Register: provider %s base quality %v out of [0,1]: %w", p.ID, p.BaseQuality, domain.ErrConfig)
	}
	if p.MaxFailures < 1 {
		return "", fmt.Errorf("op=registry.Register: provider %s max failures %d must be >= 1: %w", p.ID, p.MaxFailures, domain.ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[p.ID]; exists {
		return "", fmt.Errorf("op=registry.Register: duplicate provider id %s: %w", p.ID, domain.ErrConfig)
	}
	r.byID[p.ID] = p
	r.byCap[p.Capability] = append(r.byCap[p.Capability], p.ID)
	// Keep the per-capability list ordered by priority, then id, so that
	// ListByCapability is stable without re-sorting on every call.
	ids := r.byCap[p.Capability]
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.byID[ids[i]], r.byID[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return p.ID, nil
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.Provider{}, fmt.Errorf("op=registry.Get: id %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ListByCapability returns provider ids for a capability ordered by
// configured priority ascending. The returned slice is a copy; an empty
// slice means nothing is registered.
func (r *Registry) ListByCapability(cap domain.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCap[cap]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// All returns every registered provider, ordered by id. Used by status
// surfaces; not on any hot path.
func (r *Registry) All() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
