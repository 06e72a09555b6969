package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

// Fetcher retrieves the document behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Observer receives engine measurements. The metrics package provides the
// Prometheus implementation.
type Observer interface {
	ResourceLoaded(t ResourceType, outcome string)
	StaleDiscarded(t ResourceType)
	Click(outcome string)
	ActiveLayers(n int)
}

type nopObserver struct{}

func (nopObserver) ResourceLoaded(ResourceType, string) {}
func (nopObserver) StaleDiscarded(ResourceType)         {}
func (nopObserver) Click(string)                        {}
func (nopObserver) ActiveLayers(int)                    {}

// LoadOptions tunes a single addLayer call.
type LoadOptions struct {
	// Polygon restricts VMF queries and is kept for feature-info filtering.
	Polygon orb.Polygon `json:"polygon,omitempty"`
	// Providers keeps only resources whose URL contains one of these hosts.
	// Empty means all resources are loaded.
	Providers []string `json:"providers,omitempty"`
	// FlyTo disables the initial camera fly-to when false.
	FlyTo *bool `json:"flyTo,omitempty"`
}

func (o LoadOptions) allows(res OnlineResource) bool {
	if len(o.Providers) == 0 {
		return true
	}
	u := strings.ToLower(res.URL)
	for _, p := range o.Providers {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(u, p) {
			return true
		}
	}
	return false
}

func (o LoadOptions) flyTo() bool { return o.FlyTo == nil || *o.FlyTo }

// LoadHooks lets the dispatcher follow a load episode.
type LoadHooks struct {
	// FirstAttach runs after a primitive was attached; it may run more than once.
	FirstAttach func(layer *Layer)
	// Done runs once when every resource of the episode has completed.
	Done func(layer *Layer, cancelled bool)
}

func (h LoadHooks) attached(l *Layer) {
	if h.FirstAttach != nil {
		h.FirstAttach(l)
	}
}

func (h LoadHooks) done(l *Layer, cancelled bool) {
	if h.Done != nil {
		h.Done(l, cancelled)
	}
}

// ResourceLoader renders the resources of one protocol for a layer.
type ResourceLoader interface {
	Type() ResourceType
	AddLayer(ctx context.Context, layer *Layer, opts LoadOptions, hooks LoadHooks)
	RemoveLayer(layer *Layer)
	SupportsOpacity() bool
	Tracker() *AsyncLoadTracker
}

// convertFunc turns one resource into the primitives to attach.
type convertFunc func(ctx context.Context, layer *Layer, res OnlineResource, opts LoadOptions) ([]PrimitiveSpec, error)

// LoaderDeps are the collaborators shared by every loader.
type LoaderDeps struct {
	Renderer Renderer
	Status   RenderStatusTracker
	Fetcher  Fetcher
	Logger   *slog.Logger
	Observer Observer
}

func (d LoaderDeps) withDefaults() LoaderDeps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Status == nil {
		d.Status = NewStatusTracker()
	}
	return d
}

// asyncLoader is the protocol-independent part of every loader: one goroutine
// per resource, cancellation checked at attach time, completions counted by
// its own AsyncLoadTracker.
type asyncLoader struct {
	kind    ResourceType
	deps    LoaderDeps
	tracker *AsyncLoadTracker
	convert convertFunc
	// plan lists the units to load; defaults to the resources of kind.
	plan    func(layer *Layer) []OnlineResource
	opacity bool
	inline  bool

	mu      sync.Mutex
	cancels map[string]episodeCancel
}

type episodeCancel struct {
	ep     Episode
	cancel context.CancelFunc
}

func newAsyncLoader(kind ResourceType, deps LoaderDeps, convert convertFunc) *asyncLoader {
	return &asyncLoader{
		kind:    kind,
		deps:    deps.withDefaults(),
		tracker: NewAsyncLoadTracker(),
		convert: convert,
		cancels: make(map[string]episodeCancel),
	}
}

func (l *asyncLoader) Type() ResourceType         { return l.kind }
func (l *asyncLoader) SupportsOpacity() bool      { return l.opacity }
func (l *asyncLoader) Tracker() *AsyncLoadTracker { return l.tracker }
func (l *asyncLoader) logger() *slog.Logger       { return l.deps.Logger }
func (l *asyncLoader) units(layer *Layer) []OnlineResource {
	if l.plan != nil {
		return l.plan(layer)
	}
	return layer.ResourcesOfType(l.kind)
}

// AddLayer starts one fetch per resource and returns immediately. The load
// outlives ctx; only RemoveLayer cancels it.
func (l *asyncLoader) AddLayer(ctx context.Context, layer *Layer, opts LoadOptions, hooks LoadHooks) {
	var selected, skipped []OnlineResource
	for _, res := range l.units(layer) {
		if !opts.allows(res) {
			skipped = append(skipped, res)
			continue
		}
		selected = append(selected, res)
	}
	// Pending entries go in before skips so the layer never reads as done
	// while selected resources are still to load.
	for _, res := range selected {
		l.deps.Status.AddResource(layer.ID, res)
	}
	for _, res := range skipped {
		l.deps.Status.Skip(layer.ID, res)
	}
	if len(selected) == 0 {
		hooks.done(layer, false)
		return
	}

	ep := l.tracker.BeginLoad(layer.ID, len(selected))
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	if prev, ok := l.cancels[layer.ID]; ok {
		prev.cancel()
	}
	l.cancels[layer.ID] = episodeCancel{ep: ep, cancel: cancel}
	l.mu.Unlock()

	for _, res := range selected {
		if l.inline {
			l.load(loadCtx, layer, ep, res, len(selected), opts, hooks)
			continue
		}
		go l.load(loadCtx, layer, ep, res, len(selected), opts, hooks)
	}
}

func (l *asyncLoader) load(ctx context.Context, layer *Layer, ep Episode, res OnlineResource, total int, opts LoadOptions, hooks LoadHooks) {
	specs, err := l.convert(ctx, layer, res, opts)
	attached := false
	if err == nil {
		attached = l.tracker.Attach(layer.ID, ep, func() {
			for _, spec := range specs {
				h, aerr := l.deps.Renderer.AddPrimitive(spec.Kind, spec)
				if aerr != nil {
					err = aerr
					return
				}
				layer.appendPrimitive(h)
			}
		})
	}

	stale := l.tracker.IsCancelled(layer.ID, ep)
	switch {
	case stale:
		l.deps.Observer.StaleDiscarded(l.kind)
		l.logger().Debug("stale load discarded", "layer", layer.ID, "type", l.kind, "url", res.URL)
	case err != nil:
		err = fmt.Errorf("%w: %s %s: %v", ErrResourceFetchFailed, res.Type, res.URL, err)
		l.deps.Observer.ResourceLoaded(l.kind, "failed")
		l.logger().Warn("resource load failed", "layer", layer.ID, "type", l.kind, "url", res.URL, "err", err)
		l.deps.Status.UpdateComplete(layer.ID, res, err)
	default:
		l.deps.Observer.ResourceLoaded(l.kind, "ok")
		l.deps.Status.UpdateComplete(layer.ID, res, nil)
	}
	if attached && err == nil && len(specs) > 0 {
		hooks.attached(layer)
	}

	done, cancelled := l.tracker.OnResourceComplete(layer.ID, ep, total)
	if done {
		l.releaseContext(layer.ID, ep)
		hooks.done(layer, cancelled)
	}
}

func (l *asyncLoader) releaseContext(layerID string, ep Episode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cancels[layerID]; ok && c.ep == ep {
		c.cancel()
		delete(l.cancels, layerID)
	}
}

// RemoveLayer cancels any in-flight episode, detaches every primitive and
// resets the layer's progress.
func (l *asyncLoader) RemoveLayer(layer *Layer) {
	l.tracker.RequestCancel(layer.ID)
	l.mu.Lock()
	if c, ok := l.cancels[layer.ID]; ok {
		c.cancel()
		delete(l.cancels, layer.ID)
	}
	l.mu.Unlock()

	for _, h := range layer.takePrimitives() {
		l.deps.Renderer.RemovePrimitive(h)
	}
	l.deps.Status.ResetLayer(layer.ID)
}
