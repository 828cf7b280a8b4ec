package brand

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry used when no database is
// configured, and in tests. Upsert keeps the same first-writer-wins
// semantics as the Postgres implementation.
type MemoryRegistry struct {
	mu     sync.RWMutex
	brands map[string]Brand
}

func NewMemoryRegistry(seed ...Brand) *MemoryRegistry {
	r := &MemoryRegistry{brands: make(map[string]Brand, len(seed))}
	for _, b := range seed {
		r.brands[b.Name] = b
	}
	return r
}

func (r *MemoryRegistry) Lookup(_ context.Context, name string) (*Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.brands[name]; ok {
		copied := b
		return &copied, nil
	}
	return nil, nil
}

func (r *MemoryRegistry) Upsert(_ context.Context, b Brand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.brands[b.Name]; exists {
		return nil
	}
	r.brands[b.Name] = b
	return nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	brands := make([]Brand, 0, len(r.brands))
	for _, b := range r.brands {
		brands = append(brands, b)
	}
	return brands, nil
}
