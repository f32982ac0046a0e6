package source

import (
	"fmt"
	"sync"

	"github.com/starford/scenecorpus/internal/apperr"
)

// Registry maps source ids to sources in registration order. It is populated
// at process start and frozen before a run begins.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
	byID    map[string]int
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register appends s. Registration order is the tie-break order used during
// deduplication.
func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return apperr.ErrRegistryFrozen
	}
	if s.ID == "" {
		return fmt.Errorf("registry: empty source id")
	}
	if s.Extractor == nil {
		return fmt.Errorf("registry: source %s has no extractor", s.ID)
	}
	if _, ok := r.byID[s.ID]; ok {
		return fmt.Errorf("registry: duplicate source id %q", s.ID)
	}
	r.byID[s.ID] = len(r.sources)
	r.sources = append(r.sources, s)
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the source registered under id.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return Source{}, fmt.Errorf("registry: %q: %w", id, apperr.ErrUnknownSource)
	}
	return r.sources[i], nil
}

// Order returns the registration index of id, or -1 when unknown.
func (r *Registry) Order(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.byID[id]; ok {
		return i
	}
	return -1
}

// Sources returns all sources in registration order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Select returns the named sources in registration order. Naming an unknown
// source is an error.
func (r *Registry) Select(ids []string) ([]Source, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if r.Order(id) < 0 {
			return nil, fmt.Errorf("registry: %q: %w", id, apperr.ErrUnknownSource)
		}
		want[id] = true
	}
	var out []Source
	for _, s := range r.Sources() {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}
