package node

import (
	"fmt"
	"sync"
)

// Registry owns every node of a simulation. Nodes refer to their peers by
// registry index, never by pointer.
type Registry struct {
	mu    sync.RWMutex
	nodes []*Node
	byID  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Add registers n and returns its index.
func (r *Registry) Add(n *Node) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[n.id]; ok {
		return 0, fmt.Errorf("node %q already registered", n.id)
	}
	idx := len(r.nodes)
	n.index = idx
	r.nodes = append(r.nodes, n)
	r.byID[n.id] = idx
	return idx, nil
}

// Get returns the node at idx, nil when out of range.
func (r *Registry) Get(idx int) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || idx >= len(r.nodes) {
		return nil
	}
	return r.nodes[idx]
}

// Lookup finds a node by id.
func (r *Registry) Lookup(id string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.nodes[idx], true
}

// Nodes returns the nodes in index order.
func (r *Registry) Nodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Node(nil), r.nodes...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Link makes to an adjacent peer of from. Links are directed.
func (r *Registry) Link(from, to int) error {
	src, dst := r.Get(from), r.Get(to)
	if src == nil || dst == nil {
		return fmt.Errorf("link %d -> %d: index out of range", from, to)
	}
	if from == to {
		return fmt.Errorf("link %d -> %d: self loop", from, to)
	}
	src.addAdjacent(to)
	return nil
}

// Connect links a and b in both directions.
func (r *Registry) Connect(a, b int) error {
	if err := r.Link(a, b); err != nil {
		return err
	}
	return r.Link(b, a)
}
