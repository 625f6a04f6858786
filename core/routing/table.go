package routing

import (
	"sync"

	"github.com/kilianp07/ocppcore/core/model"
)

// ForwardingTable resolves the next hop toward a destination.
type ForwardingTable interface {
	NextHop(dest model.NodeIdentity) (model.NodeIdentity, bool)
}

// TableFunc adapts a function to ForwardingTable.
type TableFunc func(dest model.NodeIdentity) (model.NodeIdentity, bool)

func (f TableFunc) NextHop(dest model.NodeIdentity) (model.NodeIdentity, bool) { return f(dest) }

// Chain consults tables in order and returns the first answer.
func Chain(tables ...ForwardingTable) ForwardingTable {
	return TableFunc(func(dest model.NodeIdentity) (model.NodeIdentity, bool) {
		for _, t := range tables {
			if t == nil {
				continue
			}
			if hop, ok := t.NextHop(dest); ok {
				return hop, true
			}
		}
		return "", false
	})
}

// StaticTable is a destination to next-hop map with an optional default
// route. It is safe for concurrent use.
type StaticTable struct {
	mu     sync.RWMutex
	routes map[model.NodeIdentity]model.NodeIdentity
	def    model.NodeIdentity
}

// NewStaticTable builds a table from configuration values. An empty
// defaultRoute disables the default route.
func NewStaticTable(routes map[string]string, defaultRoute string) *StaticTable {
	t := &StaticTable{
		routes: make(map[model.NodeIdentity]model.NodeIdentity, len(routes)),
		def:    model.NodeIdentity(defaultRoute),
	}
	for dest, hop := range routes {
		t.routes[model.NodeIdentity(dest)] = model.NodeIdentity(hop)
	}
	return t
}

func (t *StaticTable) NextHop(dest model.NodeIdentity) (model.NodeIdentity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if hop, ok := t.routes[dest]; ok {
		return hop, true
	}
	if t.def != "" {
		return t.def, true
	}
	return "", false
}

// Set adds or replaces the route for dest.
func (t *StaticTable) Set(dest, hop model.NodeIdentity) {
	t.mu.Lock()
	t.routes[dest] = hop
	t.mu.Unlock()
}

// Remove deletes the route for dest.
func (t *StaticTable) Remove(dest model.NodeIdentity) {
	t.mu.Lock()
	delete(t.routes, dest)
	t.mu.Unlock()
}

// Len returns the number of explicit routes.
func (t *StaticTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
