// Package modeltable is the public model publication layer shared by every
// node of a simulation.
package modeltable

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"dag-learning/models"
)

var (
	// ErrAlreadyPublished is returned when a node tries to overwrite a model
	// published by another node.
	ErrAlreadyPublished = errors.New("model already published")
	// ErrNilModel is returned when Put is given no model.
	ErrNilModel = errors.New("nil model")
)

type entry struct {
	owner string
	model models.Model
}

// Table maps model ids to models. Each id has exactly one writer, the node
// that published it first; reads are unrestricted.
type Table struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Table {
	return &Table{entries: make(map[string]entry)}
}

// Put publishes model under its id on behalf of owner. Re-publishing the
// same model by the same owner is a no-op.
func (t *Table) Put(owner string, model models.Model) error {
	if model == nil {
		return ErrNilModel
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[model.ID()]; ok {
		if e.owner == owner && e.model == model {
			return nil
		}
		return fmt.Errorf("%s owned by %q: %w", model.ID(), e.owner, ErrAlreadyPublished)
	}
	t.entries[model.ID()] = entry{owner: owner, model: model}
	return nil
}

// Get returns the model published under id.
func (t *Table) Get(id string) (models.Model, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e.model, ok
}

// Owner returns the publisher of id.
func (t *Table) Owner(id string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e.owner, ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// IDs returns the published ids, sorted.
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
