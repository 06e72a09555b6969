package service

import (
	"context"
	"fmt"
	"log/slog"
)

// EngineOptions wires the engine to its collaborators.
type EngineOptions struct {
	Renderer Renderer
	Fetcher  Fetcher
	Logger   *slog.Logger
	Observer Observer
	Session  *Session

	// ClickMargin and DragThreshold fall back to DefaultClickMargin and
	// DefaultDragThreshold when zero.
	ClickMargin   float64
	DragThreshold float64
}

// Engine is the layer lifecycle and click-resolution facade used by the UI
// surfaces.
type Engine struct {
	registry   *LayerRegistry
	status     *StatusTracker
	dispatcher *Dispatcher
	clicks     *ClickResolver
	attrs      *AttributeManager
	session    *Session
	logger     *slog.Logger
	observer   Observer
	clickBus   *Bus[ClickResult]
}

// NewEngine builds the registry, loaders, click resolver and attribute manager.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	e := &Engine{
		registry: NewLayerRegistry(),
		status:   NewStatusTracker(),
		session:  opts.Session,
		logger:   opts.Logger,
		observer: opts.Observer,
		clickBus: NewBus[ClickResult](),
	}
	e.dispatcher = NewDispatcher(e.registry, LoaderDeps{
		Renderer: opts.Renderer,
		Status:   e.status,
		Fetcher:  opts.Fetcher,
		Logger:   opts.Logger,
		Observer: opts.Observer,
	})
	e.clicks = NewClickResolver(e.registry, opts.Renderer, opts.Logger, opts.ClickMargin, opts.DragThreshold)
	e.attrs = NewAttributeManager(e.registry, opts.Renderer, e.dispatcher)
	e.dispatcher.OnLoaded = func(l *Layer) {
		e.attrs.Restack(l)
		e.persist()
	}
	return e
}

// Restore re-dispatches the layers of the saved session, bottom first.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	defs, err := e.session.Load()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, def := range defs {
		if err := e.AddLayer(ctx, NewLayer(def), LoadOptions{}); err != nil {
			e.logger.Warn("restore layer", "layer", def.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// AddLayer starts loading layer. Progress is observed through Status.
func (e *Engine) AddLayer(ctx context.Context, layer *Layer, opts LoadOptions) error {
	if layer.ID == "" {
		layer.ID = GenerateID(layer.Name)
	}
	return e.dispatcher.AddLayer(ctx, layer, opts)
}

// RemoveLayer tears the layer down.
func (e *Engine) RemoveLayer(layer *Layer) {
	e.dispatcher.RemoveLayer(layer)
	e.persist()
}

// RemoveLayerByID tears down the layer with this id.
func (e *Engine) RemoveLayerByID(id string) error {
	err := e.dispatcher.RemoveLayerByID(id)
	if err == nil {
		e.persist()
	}
	return err
}

// Layers returns the active layers, bottom first.
func (e *Engine) Layers() []*Layer { return e.registry.List() }

// Layer returns a registered or loading layer.
func (e *Engine) Layer(id string) (*Layer, bool) { return e.dispatcher.Lookup(id) }

// Loading reports whether a load of the layer is in flight.
func (e *Engine) Loading(id string) bool { return e.dispatcher.Loading(id) }

// Status returns the per-resource progress of a layer.
func (e *Engine) Status(id string) LayerStatus { return e.status.Status(id) }

// StatusTracker returns the tracker receiving loader progress.
func (e *Engine) StatusTracker() *StatusTracker { return e.status }

// Events returns the bus of layer lifecycle events.
func (e *Engine) Events() *Bus[Event] { return e.dispatcher.Events() }

// Clicks returns the bus of non-empty click results.
func (e *Engine) Clicks() *Bus[ClickResult] { return e.clickBus }

// HandleClick resolves a click and publishes the result when it hit something.
func (e *Engine) HandleClick(ev ClickEvent) (ClickResult, bool) {
	res, outcome := e.clicks.handle(ev)
	e.observer.Click(string(outcome))
	if outcome != ClickHit {
		return res, false
	}
	e.clickBus.Publish(res)
	return res, true
}

// SetLayerOpacity sets the opacity of a registered layer.
func (e *Engine) SetLayerOpacity(id string, v float64) error {
	layer, err := e.registered(id)
	if err != nil {
		return err
	}
	if err := e.attrs.SetOpacity(layer, v); err != nil {
		return err
	}
	e.changed(layer.ID)
	return nil
}

// SetLayerSplitDirection assigns a registered layer to a split pane.
func (e *Engine) SetLayerSplitDirection(id string, d SplitDirection) error {
	layer, err := e.registered(id)
	if err != nil {
		return err
	}
	if err := e.attrs.SetSplitDirection(layer, d); err != nil {
		return err
	}
	e.changed(layer.ID)
	return nil
}

// MoveLayer reorders the stack, index 0 being the bottom.
func (e *Engine) MoveLayer(from, to int) error {
	if err := e.attrs.MoveLayer(from, to); err != nil {
		return err
	}
	e.persist()
	e.Events().Publish(Event{Resource: "layers", Action: "moved"})
	return nil
}

func (e *Engine) registered(id string) (*Layer, error) {
	layer, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	return layer, nil
}

func (e *Engine) changed(id string) {
	e.persist()
	e.Events().Publish(Event{Resource: "layers", Action: "updated", ID: id})
}

func (e *Engine) persist() {
	if err := e.session.Save(e.registry.List()); err != nil {
		e.logger.Warn("save session", "err", err)
	}
}
