package service

import (
	"fmt"
	"sort"
)

// AttributeManager applies opacity, split direction and stacking order to a
// layer and mirrors them on the renderer.
type AttributeManager struct {
	registry   *LayerRegistry
	renderer   Renderer
	dispatcher *Dispatcher
}

// NewAttributeManager creates a manager over the dispatcher's registry.
func NewAttributeManager(registry *LayerRegistry, renderer Renderer, dispatcher *Dispatcher) *AttributeManager {
	return &AttributeManager{registry: registry, renderer: renderer, dispatcher: dispatcher}
}

// SetOpacity sets the opacity of every primitive of the layer. Only layers
// rendered by a loader supporting opacity (WMS and bbox) accept it.
func (m *AttributeManager) SetOpacity(layer *Layer, v float64) error {
	loader, ok := m.dispatcher.Loader(layer)
	if !ok || !loader.SupportsOpacity() {
		t, _ := Classify(layer)
		return fmt.Errorf("%w: opacity on %s layer %q", ErrUnsupportedAttribute, t, layer.ID)
	}
	layer.setOpacity(v)
	v = layer.Opacity()
	for _, h := range layer.Primitives() {
		m.renderer.SetOpacity(h, v)
	}
	return nil
}

// SetSplitDirection assigns the layer to a split pane and applies it to every
// imagery primitive.
func (m *AttributeManager) SetSplitDirection(layer *Layer, d SplitDirection) error {
	switch d {
	case SplitLeft, SplitRight, SplitNone:
	default:
		return fmt.Errorf("%w: split direction %q", ErrUnsupportedAttribute, d)
	}
	layer.setSplit(d)
	for _, h := range layer.Primitives() {
		if m.renderer.ImageryStackPosition(h) >= 0 {
			m.renderer.SetSplitDirection(h, d)
		}
	}
	return nil
}

// MoveLayer moves the layer at index from to index to and shifts its
// imagery past the imagery of the layers it passed over. The number of
// single-step raise/lower operations per primitive is the distance between
// the group boundaries.
func (m *AttributeManager) MoveLayer(from, to int) error {
	order, err := m.registry.Move(from, to)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	moved := m.imagery(order[to])
	var passed []*Layer
	if from < to {
		passed = order[from:to]
	} else {
		passed = order[to+1 : from+1]
	}
	var passedPos []int
	for _, l := range passed {
		for _, p := range m.imagery(l) {
			passedPos = append(passedPos, p.pos)
		}
	}
	if len(moved) == 0 || len(passedPos) == 0 {
		return nil
	}
	sort.Ints(passedPos)

	if from < to {
		steps := passedPos[len(passedPos)-1] - moved[len(moved)-1].pos
		for i := len(moved) - 1; i >= 0; i-- {
			for s := 0; s < steps; s++ {
				m.renderer.Raise(moved[i].h)
			}
		}
		return nil
	}
	steps := moved[0].pos - passedPos[0]
	for _, p := range moved {
		for s := 0; s < steps; s++ {
			m.renderer.Lower(p.h)
		}
	}
	return nil
}

// Restack moves the imagery of layer so the renderer's imagery stack follows
// the registry order. Loads complete in any order, so a layer's imagery may
// land above layers stacked over it.
func (m *AttributeManager) Restack(layer *Layer) {
	if !m.registry.Exists(layer.ID) {
		return
	}
	var target []positioned
	for _, l := range m.registry.List() {
		target = append(target, m.imagery(l)...)
	}
	for i := 1; i < len(target); i++ {
		prev := m.renderer.ImageryStackPosition(target[i-1].h)
		for pos := m.renderer.ImageryStackPosition(target[i].h); pos >= 0 && pos < prev; {
			m.renderer.Raise(target[i].h)
			next := m.renderer.ImageryStackPosition(target[i].h)
			if next == pos {
				break
			}
			pos = next
			prev = m.renderer.ImageryStackPosition(target[i-1].h)
		}
	}
}

type positioned struct {
	h   Handle
	pos int
}

// imagery returns the layer's imagery primitives, lowest first.
func (m *AttributeManager) imagery(l *Layer) []positioned {
	var out []positioned
	for _, h := range l.Primitives() {
		if p := m.renderer.ImageryStackPosition(h); p >= 0 {
			out = append(out, positioned{h: h, pos: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}
