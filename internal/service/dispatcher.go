package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// loaderPriority is the classification order. The first type present in a
// layer's resources selects its loader; LoaderCSW is the bbox fallback.
var loaderPriority = []ResourceType{
	ResourceWMS,
	ResourceIRIS,
	ResourceVMF,
	ResourceKMZ,
	ResourceKML,
	ResourceGeoJSON,
}

// LoaderPriority lists the loader names in classification order, bbox
// fallback last.
func LoaderPriority() []string {
	out := make([]string, 0, len(loaderPriority)+1)
	for _, t := range loaderPriority {
		out = append(out, string(t))
	}
	return append(out, string(LoaderCSW))
}

var loaderFactories = map[ResourceType]func(LoaderDeps) ResourceLoader{
	ResourceWMS:     NewWMSLoader,
	ResourceIRIS:    NewIRISLoader,
	ResourceVMF:     NewVMFLoader,
	ResourceKMZ:     NewKMZLoader,
	ResourceKML:     NewKMLLoader,
	ResourceGeoJSON: NewGeoJSONLoader,
	LoaderCSW:       NewCSWLoader,
}

// Classify returns the loader type of a layer. It is used for both add and
// remove so teardown always targets the loader that rendered the layer.
func Classify(l *Layer) (ResourceType, bool) {
	for _, t := range loaderPriority {
		if l.HasResourceType(t) {
			return t, true
		}
	}
	if l.HasBBox() {
		return LoaderCSW, true
	}
	return "", false
}

// Dispatcher routes layers to their loader and keeps the registry in step
// with what the loaders attached.
type Dispatcher struct {
	registry *LayerRegistry
	renderer Renderer
	loaders  map[ResourceType]ResourceLoader
	status   RenderStatusTracker
	logger   *slog.Logger
	observer Observer
	events   *Bus[Event]

	// OnLoaded runs after a registered layer finished loading.
	OnLoaded func(layer *Layer)

	mu      sync.Mutex
	pending map[string]*Layer

	adds idLocks
}

// idLocks hands out one mutex per layer id.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

// lock blocks until id is free and returns the matching unlock.
func (k *idLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*idLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &idLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// NewDispatcher builds one loader per type in the priority table.
func NewDispatcher(registry *LayerRegistry, deps LoaderDeps) *Dispatcher {
	deps = deps.withDefaults()
	d := &Dispatcher{
		registry: registry,
		renderer: deps.Renderer,
		loaders:  make(map[ResourceType]ResourceLoader, len(loaderFactories)),
		status:   deps.Status,
		logger:   deps.Logger,
		observer: deps.Observer,
		events:   NewBus[Event](),
		pending:  make(map[string]*Layer),
	}
	for t, newLoader := range loaderFactories {
		d.loaders[t] = newLoader(deps)
	}
	return d
}

// Events returns the bus of layer lifecycle events.
func (d *Dispatcher) Events() *Bus[Event] { return d.events }

// Loader returns the loader rendering layer.
func (d *Dispatcher) Loader(layer *Layer) (ResourceLoader, bool) {
	t, ok := Classify(layer)
	if !ok {
		return nil, false
	}
	l, ok := d.loaders[t]
	return l, ok
}

// LoaderOf returns the loader registered for type t.
func (d *Dispatcher) LoaderOf(t ResourceType) (ResourceLoader, bool) {
	l, ok := d.loaders[t]
	return l, ok
}

// AddLayer classifies layer and starts loading it. A layer with the same id,
// registered or still loading, is fully removed first; concurrent adds of one
// id run one after the other. Loading continues in the background; the layer
// enters the registry once its first primitive is attached. Only
// ErrNoSuitableLoader is returned.
func (d *Dispatcher) AddLayer(ctx context.Context, layer *Layer, opts LoadOptions) error {
	loader, ok := d.Loader(layer)
	if !ok {
		d.logger.Info("no suitable loader", "layer", layer.ID, "name", layer.Name)
		return fmt.Errorf("%w: layer %q", ErrNoSuitableLoader, layer.ID)
	}

	unlock := d.adds.lock(layer.ID)
	defer unlock()

	if existing, ok := d.Lookup(layer.ID); ok {
		d.RemoveLayer(existing)
	}

	for i := range layer.Records {
		for j := range layer.Records[i].Resources {
			res := &layer.Records[i].Resources[j]
			res.Style = StripIntersects(res.Style)
		}
	}

	d.mu.Lock()
	d.pending[layer.ID] = layer
	d.mu.Unlock()

	d.logger.Debug("dispatch layer", "layer", layer.ID, "loader", loader.Type())
	loader.AddLayer(ctx, layer, opts, LoadHooks{
		FirstAttach: d.register,
		Done: func(l *Layer, cancelled bool) {
			d.finish(l, cancelled, opts)
		},
	})
	return nil
}

// register puts a loading layer into the registry, once.
func (d *Dispatcher) register(layer *Layer) {
	d.mu.Lock()
	if d.pending[layer.ID] != layer || !layer.markRegistered() {
		d.mu.Unlock()
		return
	}
	replaced := d.registry.Add(layer)
	n := d.registry.Len()
	d.mu.Unlock()

	if replaced != nil {
		d.teardown(replaced)
	}
	d.observer.ActiveLayers(n)
	d.events.Publish(Event{Resource: "layers", Action: "added", ID: layer.ID})
}

func (d *Dispatcher) finish(layer *Layer, cancelled bool, opts LoadOptions) {
	defer func() {
		d.mu.Lock()
		if d.pending[layer.ID] == layer {
			delete(d.pending, layer.ID)
		}
		d.mu.Unlock()
	}()

	current, _ := d.registry.Get(layer.ID)
	if cancelled || current != layer {
		if !cancelled {
			d.logger.Info("layer rendered nothing", "layer", layer.ID)
		}
		return
	}
	if opts.flyTo() && layer.BoundingBox != nil && layer.BoundingBox.Valid() && layer.consumeInitialLoad() {
		d.renderer.FlyTo(layer.BoundingBox.Bound())
	}
	if d.OnLoaded != nil {
		d.OnLoaded(layer)
	}
	d.events.Publish(Event{Resource: "layers", Action: "loaded", ID: layer.ID})
}

// RemoveLayer cancels any in-flight load, strips the layer's primitives and
// evicts it from the registry.
func (d *Dispatcher) RemoveLayer(layer *Layer) {
	d.teardown(layer)

	d.mu.Lock()
	if d.pending[layer.ID] == layer {
		delete(d.pending, layer.ID)
	}
	removed := d.registry.RemoveLayer(layer)
	layer.clearRegistration()
	n := d.registry.Len()
	d.mu.Unlock()

	if removed {
		d.observer.ActiveLayers(n)
	}
	d.events.Publish(Event{Resource: "layers", Action: "removed", ID: layer.ID})
}

func (d *Dispatcher) teardown(layer *Layer) {
	if loader, ok := d.Loader(layer); ok {
		loader.RemoveLayer(layer)
		return
	}
	for _, h := range layer.takePrimitives() {
		d.renderer.RemovePrimitive(h)
	}
	d.status.ResetLayer(layer.ID)
}

// RemoveLayerByID removes the registered or loading layer with this id. The
// layer's progress is reset even when the id is unknown.
func (d *Dispatcher) RemoveLayerByID(id string) error {
	layer, ok := d.Lookup(id)
	if !ok {
		d.status.ResetLayer(id)
		return fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	d.RemoveLayer(layer)
	return nil
}

// Lookup returns the registered layer with this id, or the one still loading.
func (d *Dispatcher) Lookup(id string) (*Layer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.registry.Get(id); ok {
		return l, true
	}
	l, ok := d.pending[id]
	return l, ok
}

// Loading reports whether a layer with this id has a load in flight.
func (d *Dispatcher) Loading(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[id]
	return ok
}
