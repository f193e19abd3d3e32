package replication

import (
	"slices"
	"sync"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// World is the state store replicated diffs are applied to.
type World interface {
	// Spawn creates an entity and returns its local id.
	Spawn() protocol.Entity
	// Despawn destroys an entity and its components.
	Despawn(e protocol.Entity)
	// Contains reports whether e exists.
	Contains(e protocol.Entity) bool
	// Insert adds or replaces a component.
	Insert(e protocol.Entity, c protocol.Component)
	// Remove deletes a component.
	Remove(e protocol.Entity, kind protocol.ComponentKind)
}

// MemoryWorld is an in-memory World. It is safe for concurrent use.
type MemoryWorld struct {
	mu       sync.RWMutex
	next     protocol.Entity
	entities map[protocol.Entity]map[protocol.ComponentKind]protocol.Component
}

// NewMemoryWorld creates an empty world. Entity ids start at 1.
func NewMemoryWorld() *MemoryWorld {
	return &MemoryWorld{
		next:     1,
		entities: make(map[protocol.Entity]map[protocol.ComponentKind]protocol.Component),
	}
}

// Spawn implements World.
func (w *MemoryWorld) Spawn() protocol.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.next
	w.next++
	w.entities[e] = make(map[protocol.ComponentKind]protocol.Component)
	return e
}

// Despawn implements World.
func (w *MemoryWorld) Despawn(e protocol.Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entities, e)
}

// Contains implements World.
func (w *MemoryWorld) Contains(e protocol.Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entities[e]
	return ok
}

// Insert implements World. Inserting on a missing entity is a no-op.
func (w *MemoryWorld) Insert(e protocol.Entity, c protocol.Component) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if comps, ok := w.entities[e]; ok {
		comps[c.ComponentKind()] = c
	}
}

// Remove implements World.
func (w *MemoryWorld) Remove(e protocol.Entity, kind protocol.ComponentKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if comps, ok := w.entities[e]; ok {
		delete(comps, kind)
	}
}

// Get returns a component of e.
func (w *MemoryWorld) Get(e protocol.Entity, kind protocol.ComponentKind) (protocol.Component, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.entities[e][kind]
	return c, ok
}

// Components returns every component of e.
func (w *MemoryWorld) Components(e protocol.Entity) []protocol.Component {
	w.mu.RLock()
	defer w.mu.RUnlock()
	comps := w.entities[e]
	out := make([]protocol.Component, 0, len(comps))
	for _, c := range comps {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b protocol.Component) int {
		return int(a.ComponentKind()) - int(b.ComponentKind())
	})
	return out
}

// Entities returns every entity in ascending order.
func (w *MemoryWorld) Entities() []protocol.Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]protocol.Entity, 0, len(w.entities))
	for e := range w.entities {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of entities.
func (w *MemoryWorld) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}
