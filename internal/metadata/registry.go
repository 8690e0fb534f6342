package metadata

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the entity metadata resolved from the runtime config.
// Entity lookup is case-insensitive to match REST URL handling.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity // keyed by lowercased exposed name
	names    []string           // original names, sorted insertion order not guaranteed
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// GetEntity returns the entity with the given exposed name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[strings.ToLower(name)]
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, name := range r.names {
		entities = append(entities, r.entities[strings.ToLower(name)])
	}
	return entities
}

// EntityNames returns the exposed names of all registered entities.
func (r *Registry) EntityNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Load replaces all entities in the registry. The map key is the exposed
// entity name; it is copied onto Entity.Name when the definition leaves the
// name blank.
func (r *Registry) Load(entities map[string]*Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := make(map[string]*Entity, len(entities))
	var names []string
	for name, e := range entities {
		if e == nil {
			return fmt.Errorf("entity %s: empty definition", name)
		}
		if e.Name == "" {
			e.Name = name
		}
		key := strings.ToLower(name)
		if _, dup := loaded[key]; dup {
			return fmt.Errorf("entity %s: duplicate name (case-insensitive)", name)
		}
		loaded[key] = e
		names = append(names, e.Name)
	}

	for _, e := range loaded {
		for relName, rel := range e.Relationships {
			if _, ok := loaded[strings.ToLower(rel.TargetEntity)]; !ok {
				return fmt.Errorf("entity %s: relationship %s targets unknown entity %s",
					e.Name, relName, rel.TargetEntity)
			}
		}
	}

	sort.Strings(names)
	r.entities = loaded
	r.names = names
	return nil
}
