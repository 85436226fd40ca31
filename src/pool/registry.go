package pool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
)

// Registry is the single owner of resource lifetime. Pools and callers
// only ever hold resource ids and short-lived references.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*resource.Resource
}

func NewRegistry() *Registry {
	return &Registry{resources: map[string]*resource.Resource{}}
}

// Add registers a new resource with neutral health and usage defaults.
// An empty seed id gets a generated one; a duplicate id is rejected.
func (reg *Registry) Add(seed resource.Seed) (*resource.Resource, error) {
	if seed.ID == "" {
		seed.ID = uuid.New().String()
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.resources[seed.ID]; exists {
		return nil, fmt.Errorf("duplicate resource id %s", seed.ID)
	}
	r := resource.New(seed)
	reg.resources[seed.ID] = r
	return r, nil
}

// Remove deletes a resource; false when the id is unknown, so a repeat
// removal is a visible no-op.
func (reg *Registry) Remove(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.resources[id]; !exists {
		return false
	}
	delete(reg.resources, id)
	return true
}

func (reg *Registry) Get(id string) (*resource.Resource, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.resources[id]
	return r, ok
}

// List returns all resources ordered by id.
func (reg *Registry) List() []*resource.Resource {
	reg.mu.RLock()
	out := make([]*resource.Resource, 0, len(reg.resources))
	for _, r := range reg.resources {
		out = append(out, r)
	}
	reg.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (reg *Registry) ListActive() []*resource.Resource {
	all := reg.List()
	out := make([]*resource.Resource, 0, len(all))
	for _, r := range all {
		if r.Status() == resource.StatusActive {
			out = append(out, r)
		}
	}
	return out
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.resources)
}
