package service

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Handle is an opaque reference to a renderer-owned primitive or entity.
type Handle uint64

// Pixel is a screen position.
type Pixel struct {
	X float64 `json:"x" doc:"Screen x in pixels"`
	Y float64 `json:"y" doc:"Screen y in pixels"`
}

// Entity is a directly pickable renderer object.
type Entity struct {
	Handle Handle
	// Transient marks UI artifacts such as the geocoder search marker.
	Transient bool
}

// PrimitiveKind is the kind of visual object added to the renderer.
type PrimitiveKind string

const (
	PrimitiveImagery   PrimitiveKind = "imagery"
	PrimitiveVector    PrimitiveKind = "vector"
	PrimitiveRectangle PrimitiveKind = "rectangle"
	PrimitiveLabel     PrimitiveKind = "label"
	PrimitivePoint     PrimitiveKind = "point"
)

// ImagerySpec describes a tiled imagery source (WMS GetMap).
type ImagerySpec struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

// PrimitiveSpec is the data handed to the renderer for one primitive.
type PrimitiveSpec struct {
	Kind     PrimitiveKind
	LayerID  string
	Name     string
	Geometry orb.Geometry
	Features *geojson.FeatureCollection
	Imagery  *ImagerySpec
	Label    string
	Opacity  float64
	Split    SplitDirection
}

// Renderer is the rendering engine the core drives. Implementations must be
// safe for concurrent use.
type Renderer interface {
	// ScreenToWorld converts a pixel to lon/lat; ok is false when the click missed the globe.
	ScreenToWorld(px Pixel) (orb.Point, bool)
	// PickEntitiesAt returns every entity rendered under the pixel.
	PickEntitiesAt(px Pixel) []Entity

	AddPrimitive(kind PrimitiveKind, spec PrimitiveSpec) (Handle, error)
	RemovePrimitive(h Handle)

	// ImageryStackPosition returns the index of h in the imagery stack
	// (0 is the bottom), or -1 if h is not imagery.
	ImageryStackPosition(h Handle) int
	Raise(h Handle)
	Lower(h Handle)

	SetOpacity(h Handle, v float64)
	SetSplitDirection(h Handle, d SplitDirection)

	FlyTo(b orb.Bound)
}
