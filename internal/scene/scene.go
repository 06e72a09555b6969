// Package scene is a headless, in-memory renderer: an equirectangular
// viewport, a flat imagery stack and pickable vector primitives. It lets the
// engine run as a service and makes its renderer interactions observable.
package scene

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-portal/internal/service"
)

// Viewport maps a screen of Width x Height pixels onto Bound.
type Viewport struct {
	Width  float64
	Height float64
	Bound  orb.Bound
}

// DefaultViewport shows the whole globe on a 1440x720 screen, 4 pixels per degree.
var DefaultViewport = Viewport{
	Width:  1440,
	Height: 720,
	Bound:  orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}},
}

var globe = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// Primitive is a rendered object.
type Primitive struct {
	Handle    service.Handle
	Kind      service.PrimitiveKind
	Spec      service.PrimitiveSpec
	Opacity   float64
	Split     service.SplitDirection
	Transient bool
}

// Scene implements service.Renderer.
type Scene struct {
	mu        sync.Mutex
	viewport  Viewport
	tolerance float64
	next      service.Handle
	prims     map[service.Handle]*Primitive
	imagery   []service.Handle
	flights   []orb.Bound
}

// Option configures a Scene.
type Option func(*Scene)

// WithViewport replaces DefaultViewport.
func WithViewport(v Viewport) Option { return func(s *Scene) { s.viewport = v } }

// WithPickTolerance sets the pick radius in pixels for points and lines.
func WithPickTolerance(px float64) Option { return func(s *Scene) { s.tolerance = px } }

// New creates an empty scene.
func New(opts ...Option) *Scene {
	s := &Scene{
		viewport:  DefaultViewport,
		tolerance: 3,
		prims:     make(map[service.Handle]*Primitive),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scene) degreesPerPixel() float64 {
	return (s.viewport.Bound.Max[0] - s.viewport.Bound.Min[0]) / s.viewport.Width
}

// ScreenToWorld converts a pixel to lon/lat. Pixels off screen or outside
// the globe miss.
func (s *Scene) ScreenToWorld(px service.Pixel) (orb.Point, bool) {
	v := s.viewport
	if px.X < 0 || px.Y < 0 || px.X > v.Width || px.Y > v.Height {
		return orb.Point{}, false
	}
	lon := v.Bound.Min[0] + px.X/v.Width*(v.Bound.Max[0]-v.Bound.Min[0])
	lat := v.Bound.Max[1] - px.Y/v.Height*(v.Bound.Max[1]-v.Bound.Min[1])
	pt := orb.Point{lon, lat}
	if !globe.Contains(pt) {
		return orb.Point{}, false
	}
	return pt, true
}

// WorldToScreen is the inverse of ScreenToWorld.
func (s *Scene) WorldToScreen(pt orb.Point) service.Pixel {
	v := s.viewport
	return service.Pixel{
		X: (pt[0] - v.Bound.Min[0]) / (v.Bound.Max[0] - v.Bound.Min[0]) * v.Width,
		Y: (v.Bound.Max[1] - pt[1]) / (v.Bound.Max[1] - v.Bound.Min[1]) * v.Height,
	}
}

// AddPrimitive registers a primitive; imagery goes on top of the stack.
func (s *Scene) AddPrimitive(kind service.PrimitiveKind, spec service.PrimitiveSpec) (service.Handle, error) {
	switch kind {
	case service.PrimitiveImagery:
		if spec.Imagery == nil || spec.Imagery.URL == "" {
			return 0, fmt.Errorf("imagery primitive %q without source", spec.Name)
		}
	case service.PrimitiveVector, service.PrimitivePoint:
		if spec.Features == nil && spec.Geometry == nil {
			return 0, fmt.Errorf("%s primitive %q without geometry", kind, spec.Name)
		}
	case service.PrimitiveRectangle, service.PrimitiveLabel:
		if spec.Geometry == nil {
			return 0, fmt.Errorf("%s primitive %q without geometry", kind, spec.Name)
		}
	default:
		return 0, fmt.Errorf("unknown primitive kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.prims[h] = &Primitive{Handle: h, Kind: kind, Spec: spec, Opacity: spec.Opacity, Split: spec.Split}
	if kind == service.PrimitiveImagery {
		s.imagery = append(s.imagery, h)
	}
	return h, nil
}

// AddMarker drops a transient pickable point, like a geocoder result.
func (s *Scene) AddMarker(pt orb.Point) service.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.prims[h] = &Primitive{
		Handle:    h,
		Kind:      service.PrimitivePoint,
		Spec:      service.PrimitiveSpec{Kind: service.PrimitivePoint, Name: "marker", Geometry: pt},
		Opacity:   1,
		Transient: true,
	}
	return h
}

// RemovePrimitive drops a primitive. Unknown handles are ignored.
func (s *Scene) RemovePrimitive(h service.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prims[h]; !ok {
		return
	}
	delete(s.prims, h)
	if i := s.indexLocked(h); i >= 0 {
		s.imagery = append(s.imagery[:i], s.imagery[i+1:]...)
	}
}

func (s *Scene) indexLocked(h service.Handle) int {
	for i, x := range s.imagery {
		if x == h {
			return i
		}
	}
	return -1
}

// ImageryStackPosition returns the index of h in the imagery stack, or -1.
func (s *Scene) ImageryStackPosition(h service.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(h)
}

// Raise moves imagery h one step up.
func (s *Scene) Raise(h service.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(h); i >= 0 && i < len(s.imagery)-1 {
		s.imagery[i], s.imagery[i+1] = s.imagery[i+1], s.imagery[i]
	}
}

// Lower moves imagery h one step down.
func (s *Scene) Lower(h service.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(h); i > 0 {
		s.imagery[i], s.imagery[i-1] = s.imagery[i-1], s.imagery[i]
	}
}

func (s *Scene) SetOpacity(h service.Handle, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prims[h]; ok {
		p.Opacity = v
	}
}

func (s *Scene) SetSplitDirection(h service.Handle, d service.SplitDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prims[h]; ok {
		p.Split = d
	}
}

// FlyTo records a camera flight.
func (s *Scene) FlyTo(b orb.Bound) {
	s.mu.Lock()
	s.flights = append(s.flights, b)
	s.mu.Unlock()
}

// PickEntitiesAt returns the non-imagery primitives under px, topmost
// (most recently added) first. Labels are not pickable.
func (s *Scene) PickEntitiesAt(px service.Pixel) []service.Entity {
	pt, ok := s.ScreenToWorld(px)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tol := s.tolerance * s.degreesPerPixel()

	var out []service.Entity
	for h := s.next; h > 0; h-- {
		p, ok := s.prims[h]
		if !ok || p.Kind == service.PrimitiveImagery || p.Kind == service.PrimitiveLabel {
			continue
		}
		if hits(p.Spec, pt, tol) {
			out = append(out, service.Entity{Handle: h, Transient: p.Transient})
		}
	}
	return out
}

func hits(spec service.PrimitiveSpec, pt orb.Point, tol float64) bool {
	if spec.Geometry != nil && geometryHit(spec.Geometry, pt, tol) {
		return true
	}
	if spec.Features != nil {
		for _, f := range spec.Features.Features {
			if f.Geometry != nil && geometryHit(f.Geometry, pt, tol) {
				return true
			}
		}
	}
	return false
}

func geometryHit(g orb.Geometry, pt orb.Point, tol float64) bool {
	switch g := g.(type) {
	case orb.Polygon:
		if planar.PolygonContains(g, pt) {
			return true
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(g, pt) {
			return true
		}
	case orb.Bound:
		if g.Pad(tol).Contains(pt) {
			return true
		}
	case orb.Collection:
		for _, c := range g {
			if geometryHit(c, pt, tol) {
				return true
			}
		}
		return false
	}
	return planar.DistanceFrom(g, pt) <= tol
}

// Primitive returns a copy of a primitive.
func (s *Scene) Primitive(h service.Handle) (Primitive, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prims[h]
	if !ok {
		return Primitive{}, false
	}
	return *p, true
}

// Primitives returns copies of every primitive of a layer, in creation order.
// An empty layerID returns all of them.
func (s *Scene) Primitives(layerID string) []Primitive {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Primitive
	for h := service.Handle(1); h <= s.next; h++ {
		if p, ok := s.prims[h]; ok && (layerID == "" || p.Spec.LayerID == layerID) {
			out = append(out, *p)
		}
	}
	return out
}

// Len returns the number of primitives in the scene.
func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prims)
}

// ImageryOrder returns the imagery stack, bottom first.
func (s *Scene) ImageryOrder() []service.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]service.Handle(nil), s.imagery...)
}

// Flights returns every requested camera flight.
func (s *Scene) Flights() []orb.Bound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orb.Bound(nil), s.flights...)
}

// FeatureCount counts the features of the layer's vector and point primitives.
func (s *Scene) FeatureCount(layerID string) int {
	n := 0
	for _, p := range s.Primitives(layerID) {
		if p.Spec.Features != nil {
			n += len(p.Spec.Features.Features)
		}
	}
	return n
}

// Snapshot is a serializable summary of the scene.
type Snapshot struct {
	Primitives int              `json:"primitives"`
	Imagery    []service.Handle `json:"imagery"`
	Flights    []orb.Bound      `json:"flights,omitempty"`
}

// Snapshot summarizes the scene.
func (s *Scene) Snapshot() Snapshot {
	return Snapshot{Primitives: s.Len(), Imagery: s.ImageryOrder(), Flights: s.Flights()}
}

// FeatureCollection returns the features of every vector primitive of a
// layer merged into one collection.
func (s *Scene) FeatureCollection(layerID string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range s.Primitives(layerID) {
		if p.Spec.Features != nil {
			fc.Features = append(fc.Features, p.Spec.Features.Features...)
		}
	}
	return fc
}

var _ service.Renderer = (*Scene)(nil)

// TileFeatures returns every drawable vector shape of a layer as features:
// vector and point features and rectangles. Labels and imagery are left out. Each feature carries the primitive handle and kind.
func (s *Scene) TileFeatures(layerID string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range s.Primitives(layerID) {
		switch p.Kind {
		case service.PrimitiveImagery, service.PrimitiveLabel:
			continue
		}
		tag := func(f *geojson.Feature) *geojson.Feature {
			f.Properties["handle"] = uint64(p.Handle)
			f.Properties["kind"] = string(p.Kind)
			if p.Spec.Name != "" {
				f.Properties["name"] = p.Spec.Name
			}
			return f
		}
		if p.Spec.Geometry != nil {
			fc.Append(tag(geojson.NewFeature(p.Spec.Geometry)))
		}
		if p.Spec.Features != nil {
			for _, f := range p.Spec.Features.Features {
				if f.Geometry == nil {
					continue
				}
				out := geojson.NewFeature(f.Geometry)
				for k, v := range f.Properties {
					out.Properties[k] = v
				}
				fc.Append(tag(out))
			}
		}
	}
	return fc
}
