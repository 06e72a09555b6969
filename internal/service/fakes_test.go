package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

// fakeRenderer maps pixels 1:1 to lon/lat; pixels with X > 180 miss the globe.
type fakeRenderer struct {
	mu       sync.Mutex
	next     Handle
	prims    map[Handle]PrimitiveSpec
	imagery  []Handle
	opacity  map[Handle]float64
	split    map[Handle]SplitDirection
	flights  []orb.Bound
	picks    []Entity
	toWorld  int
	failKind PrimitiveKind
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		prims:   make(map[Handle]PrimitiveSpec),
		opacity: make(map[Handle]float64),
		split:   make(map[Handle]SplitDirection),
	}
}

func (r *fakeRenderer) ScreenToWorld(px Pixel) (orb.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toWorld++
	if px.X > 180 {
		return orb.Point{}, false
	}
	return orb.Point{px.X, px.Y}, true
}

func (r *fakeRenderer) PickEntitiesAt(Pixel) []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entity(nil), r.picks...)
}

func (r *fakeRenderer) AddPrimitive(kind PrimitiveKind, spec PrimitiveSpec) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == r.failKind {
		return 0, fmt.Errorf("renderer rejects %s", kind)
	}
	r.next++
	r.prims[r.next] = spec
	if kind == PrimitiveImagery {
		r.imagery = append(r.imagery, r.next)
	}
	return r.next, nil
}

func (r *fakeRenderer) RemovePrimitive(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prims, h)
	if i := r.indexLocked(h); i >= 0 {
		r.imagery = append(r.imagery[:i], r.imagery[i+1:]...)
	}
}

func (r *fakeRenderer) indexLocked(h Handle) int {
	for i, x := range r.imagery {
		if x == h {
			return i
		}
	}
	return -1
}

func (r *fakeRenderer) ImageryStackPosition(h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(h)
}

func (r *fakeRenderer) Raise(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(h); i >= 0 && i < len(r.imagery)-1 {
		r.imagery[i], r.imagery[i+1] = r.imagery[i+1], r.imagery[i]
	}
}

func (r *fakeRenderer) Lower(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(h); i > 0 {
		r.imagery[i], r.imagery[i-1] = r.imagery[i-1], r.imagery[i]
	}
}

func (r *fakeRenderer) SetOpacity(h Handle, v float64) {
	r.mu.Lock()
	r.opacity[h] = v
	r.mu.Unlock()
}

func (r *fakeRenderer) SetSplitDirection(h Handle, d SplitDirection) {
	r.mu.Lock()
	r.split[h] = d
	r.mu.Unlock()
}

func (r *fakeRenderer) FlyTo(b orb.Bound) {
	r.mu.Lock()
	r.flights = append(r.flights, b)
	r.mu.Unlock()
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prims)
}

func (r *fakeRenderer) specs(layerID string) []PrimitiveSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PrimitiveSpec
	for h := Handle(1); h <= r.next; h++ {
		if s, ok := r.prims[h]; ok && s.LayerID == layerID {
			out = append(out, s)
		}
	}
	return out
}

// stackLayers returns the owning layer id of each imagery primitive, bottom first.
func (r *fakeRenderer) stackLayers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.imagery))
	for _, h := range r.imagery {
		out = append(out, r.prims[h].LayerID)
	}
	return out
}

// fakeFetcher answers by URL prefix. Handlers ignore ctx so results of
// cancelled loads still arrive.
type fakeFetcher struct {
	mu       sync.Mutex
	handlers map[string]func() ([]byte, error)
	calls    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{handlers: make(map[string]func() ([]byte, error))}
}

func (f *fakeFetcher) handle(prefix string, fn func() ([]byte, error)) {
	f.mu.Lock()
	f.handlers[prefix] = fn
	f.mu.Unlock()
}

func (f *fakeFetcher) serve(prefix, body string) {
	f.handle(prefix, func() ([]byte, error) { return []byte(body), nil })
}

// gate makes prefix block until the returned func is called.
func (f *fakeFetcher) gate(prefix string, body string, err error) func() {
	release := make(chan struct{})
	f.handle(prefix, func() ([]byte, error) {
		<-release
		if err != nil {
			return nil, err
		}
		return []byte(body), nil
	})
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	var fn func() ([]byte, error)
	longest := -1
	for prefix, h := range f.handlers {
		if strings.HasPrefix(rawURL, prefix) && len(prefix) > longest {
			fn, longest = h, len(prefix)
		}
	}
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected fetch %s", rawURL)
	}
	return fn()
}

// recordingStatus wraps a StatusTracker and records resets.
type recordingStatus struct {
	*StatusTracker
	mu     sync.Mutex
	resets []string
}

func newRecordingStatus() *recordingStatus {
	return &recordingStatus{StatusTracker: NewStatusTracker()}
}

func (s *recordingStatus) ResetLayer(layerID string) {
	s.mu.Lock()
	s.resets = append(s.resets, layerID)
	s.mu.Unlock()
	s.StatusTracker.ResetLayer(layerID)
}

func (s *recordingStatus) resetCount(layerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.resets {
		if id == layerID {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

const pointCollection = `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[12,12]},"properties":{}}]}`

func record(id string, box *GeographicElement, resources ...OnlineResource) CatalogRecord {
	rec := CatalogRecord{ID: id, Title: "Record " + id, Resources: resources}
	if box != nil {
		rec.GeographicElements = []GeographicElement{*box}
	}
	return rec
}

func box(w, s, e, n float64) *GeographicElement {
	return &GeographicElement{Type: "bbox", West: w, South: s, East: e, North: n}
}

func wms(url, name string) OnlineResource {
	return OnlineResource{URL: url, Name: name, Type: ResourceWMS}
}

func geoJSON(url string) OnlineResource {
	return OnlineResource{URL: url, Name: url, Type: ResourceGeoJSON}
}

func layerOf(id string, records ...CatalogRecord) *Layer {
	return NewLayer(LayerDefinition{ID: id, Name: "Layer " + id, Records: records})
}

type harness struct {
	renderer   *fakeRenderer
	fetcher    *fakeFetcher
	status     *recordingStatus
	registry   *LayerRegistry
	dispatcher *Dispatcher
}

func newHarness() *harness {
	h := &harness{
		renderer: newFakeRenderer(),
		fetcher:  newFakeFetcher(),
		status:   newRecordingStatus(),
		registry: NewLayerRegistry(),
	}
	h.dispatcher = NewDispatcher(h.registry, LoaderDeps{
		Renderer: h.renderer,
		Status:   h.status,
		Fetcher:  h.fetcher,
	})
	return h
}

// settled waits until no load of layerID is in flight in any loader.
func (h *harness) settled(t *testing.T, layerID string) {
	t.Helper()
	waitFor(t, "load of "+layerID+" to settle", func() bool {
		if h.dispatcher.Loading(layerID) {
			return false
		}
		for _, l := range h.dispatcher.loaders {
			if l.Tracker().Loading(layerID) {
				return false
			}
		}
		return true
	})
}
