package service

import (
	"fmt"
	"sync"
)

// LayerRegistry is the authoritative list of active layers, keyed by id.
// List order is the on-screen stacking order: index 0 is the bottom, the
// topmost layer is last.
type LayerRegistry struct {
	mu    sync.RWMutex
	byID  map[string]*Layer
	order []*Layer
}

// NewLayerRegistry creates an empty registry.
func NewLayerRegistry() *LayerRegistry {
	return &LayerRegistry{byID: make(map[string]*Layer)}
}

// Add appends layer on top of the stack. If a different layer with the same
// id is present it is evicted first and returned so the caller can tear down
// its primitives. Adding the same layer twice is a no-op.
func (r *LayerRegistry) Add(layer *Layer) (replaced *Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[layer.ID]; ok {
		if existing == layer {
			return nil
		}
		r.removeLocked(layer.ID)
		replaced = existing
	}
	r.byID[layer.ID] = layer
	r.order = append(r.order, layer)
	return replaced
}

// Remove drops a layer by id and returns it, or nil if absent.
func (r *LayerRegistry) Remove(id string) *Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// RemoveLayer drops layer only if it is the registered instance for its id.
func (r *LayerRegistry) RemoveLayer(layer *Layer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[layer.ID] != layer {
		return false
	}
	r.removeLocked(layer.ID)
	return true
}

func (r *LayerRegistry) removeLocked(id string) *Layer {
	layer, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	for i, l := range r.order {
		if l == layer {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return layer
}

// Get returns a layer by id.
func (r *LayerRegistry) Get(id string) (*Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byID[id]
	return l, ok
}

// Exists reports whether a layer with this id is registered.
func (r *LayerRegistry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns the ordered layers, bottom first.
func (r *LayerRegistry) List() []*Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Layer(nil), r.order...)
}

// Len returns the number of registered layers.
func (r *LayerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// IndexOf returns the stack index of the layer with this id, or -1.
func (r *LayerRegistry) IndexOf(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, l := range r.order {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Move relocates the layer at index from to index to, shifting the layers in
// between. It returns the new order.
func (r *LayerRegistry) Move(from, to int) ([]*Layer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	if from < 0 || from >= n || to < 0 || to >= n {
		return nil, fmt.Errorf("%w: from=%d to=%d with %d layers", ErrInvalidMove, from, to, n)
	}
	moved := r.order[from]
	if from < to {
		copy(r.order[from:to], r.order[from+1:to+1])
	} else if from > to {
		copy(r.order[to+1:from+1], r.order[to:from])
	}
	r.order[to] = moved
	return append([]*Layer(nil), r.order...), nil
}

// FindOwnerOfEntity scans every layer's primitives for h.
func (r *LayerRegistry) FindOwnerOfEntity(h Handle) (*Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.order {
		if l.OwnsPrimitive(h) {
			return l, true
		}
	}
	return nil, false
}
