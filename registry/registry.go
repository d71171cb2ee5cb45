// Package registry holds the selector definitions known to the engine.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/use-agent/pinpoint/models"
)

type slot struct {
	mu  sync.Mutex // serializes Update for one selector
	def models.SelectorDefinition
}

// Registry maps selector ids to definitions. Readers always receive deep
// copies; mutation goes through Update, which commits atomically.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

func unknown(id string) error {
	return models.NewEngineError(models.ErrCodeSelectorUnknown, fmt.Sprintf("selector %q is not registered", id), nil)
}

// Register validates def and stores it. An id that is already registered
// is rejected with SELECTOR_EXISTS; use Replace to redefine a selector.
func (r *Registry) Register(def models.SelectorDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	stored := def.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[def.ID]; ok {
		return models.NewEngineError(models.ErrCodeSelectorExists, fmt.Sprintf("selector %q is already registered", def.ID), nil)
	}
	r.slots[def.ID] = &slot{def: stored}
	return nil
}

// Replace redefines a registered selector without discarding evolved
// state. Strategies present in both definitions keep their stored
// priority and enabled flag; strategies missing from def are kept,
// disabled. New strategies whose priority is taken are moved after the
// last one.
func (r *Registry) Replace(def models.SelectorDefinition) (models.SelectorDefinition, error) {
	if err := def.Validate(); err != nil {
		return models.SelectorDefinition{}, err
	}
	return r.Update(def.ID, func(cur *models.SelectorDefinition) error {
		*cur = merge(*cur, def.Clone())
		return nil
	})
}

func merge(cur, next models.SelectorDefinition) models.SelectorDefinition {
	old := make(map[string]models.StrategySpec, len(cur.Strategies))
	for _, s := range cur.Strategies {
		old[s.ID] = s
	}

	used := make(map[int]bool)
	seen := make(map[string]bool, len(next.Strategies))
	maxPriority := 0
	for i, s := range next.Strategies {
		seen[s.ID] = true
		if prev, ok := old[s.ID]; ok {
			next.Strategies[i].Priority = prev.Priority
			next.Strategies[i].Enabled = prev.Enabled
		}
	}
	for _, s := range cur.Strategies {
		if !seen[s.ID] {
			s.Enabled = false
			next.Strategies = append(next.Strategies, s)
		}
	}
	for _, s := range next.Strategies {
		if _, ok := old[s.ID]; ok {
			used[s.Priority] = true
		}
		maxPriority = max(maxPriority, s.Priority)
	}
	for i, s := range next.Strategies {
		if _, ok := old[s.ID]; ok {
			continue
		}
		if used[s.Priority] {
			maxPriority++
			next.Strategies[i].Priority = maxPriority
		}
		used[next.Strategies[i].Priority] = true
	}
	return next
}

// Get returns a copy of the definition registered under id.
func (r *Registry) Get(id string) (models.SelectorDefinition, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return models.SelectorDefinition{}, unknown(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def.Clone(), nil
}

// List returns copies of every definition ordered by id.
func (r *Registry) List() []models.SelectorDefinition {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	out := make([]models.SelectorDefinition, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.def.Clone())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered selectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Update applies fn to a copy of the definition and commits the copy only
// when fn returns nil and the result still validates. Concurrent updates
// of the same selector are serialized; a failed update leaves the stored
// definition untouched.
func (r *Registry) Update(id string, fn func(def *models.SelectorDefinition) error) (models.SelectorDefinition, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return models.SelectorDefinition{}, unknown(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.def.Clone()
	if err := fn(&working); err != nil {
		return models.SelectorDefinition{}, err
	}
	if working.ID != id {
		return models.SelectorDefinition{}, models.NewEngineError(models.ErrCodeDefinitionInvalid, "selector id cannot change during update", nil)
	}
	if err := working.Validate(); err != nil {
		return models.SelectorDefinition{}, err
	}
	s.def = working
	return working.Clone(), nil
}
