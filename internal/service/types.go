// Package service contains the layer lifecycle and click-resolution engine
// of the plat-portal map: layer registry, protocol loaders, load tracking,
// click resolution and layer attributes.
package service

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

// ResourceType identifies the protocol of an online resource.
type ResourceType string

const (
	ResourceWMS         ResourceType = "WMS"
	ResourceWFS         ResourceType = "WFS"
	ResourceWCS         ResourceType = "WCS"
	ResourceKML         ResourceType = "KML"
	ResourceKMZ         ResourceType = "KMZ"
	ResourceGeoJSON     ResourceType = "GEOJSON"
	ResourceVMF         ResourceType = "VMF"
	ResourceIRIS        ResourceType = "IRIS"
	ResourceWWW         ResourceType = "WWW"
	ResourceFTP         ResourceType = "FTP"
	ResourceOthers      ResourceType = "OTHERS"
	ResourceUnsupported ResourceType = "UNSUPPORTED"
)

var knownResourceTypes = map[ResourceType]bool{
	ResourceWMS: true, ResourceWFS: true, ResourceWCS: true, ResourceKML: true,
	ResourceKMZ: true, ResourceGeoJSON: true, ResourceVMF: true, ResourceIRIS: true,
	ResourceWWW: true, ResourceFTP: true, ResourceOthers: true, ResourceUnsupported: true,
}

// ParseResourceType normalizes a protocol name. Unknown names map to UNSUPPORTED.
func ParseResourceType(s string) ResourceType {
	t := ResourceType(strings.ToUpper(strings.TrimSpace(s)))
	if knownResourceTypes[t] {
		return t
	}
	return ResourceUnsupported
}

// UnmarshalText lets resource types be decoded case-insensitively from JSON and YAML.
func (t *ResourceType) UnmarshalText(b []byte) error {
	*t = ParseResourceType(string(b))
	return nil
}

// SplitDirection assigns a layer to a pane of the side-by-side view.
type SplitDirection string

const (
	SplitNone  SplitDirection = "NONE"
	SplitLeft  SplitDirection = "LEFT"
	SplitRight SplitDirection = "RIGHT"
)

// ParseSplitDirection validates a split direction. The empty string means NONE.
func ParseSplitDirection(s string) (SplitDirection, error) {
	switch d := SplitDirection(strings.ToUpper(strings.TrimSpace(s))); d {
	case "", SplitNone:
		return SplitNone, nil
	case SplitLeft, SplitRight:
		return d, nil
	default:
		return "", fmt.Errorf("invalid split direction %q", s)
	}
}

// GeographicElement is a bounding box in degrees.
type GeographicElement struct {
	Type  string  `json:"type,omitempty" yaml:"type,omitempty" doc:"Element type" example:"bbox"`
	West  float64 `json:"westBoundLongitude" yaml:"west" doc:"West bound longitude" example:"110"`
	South float64 `json:"southBoundLatitude" yaml:"south" doc:"South bound latitude" example:"-45"`
	East  float64 `json:"eastBoundLongitude" yaml:"east" doc:"East bound longitude" example:"155"`
	North float64 `json:"northBoundLatitude" yaml:"north" doc:"North bound latitude" example:"-10"`
}

// Bound returns the element as an orb bound.
func (g GeographicElement) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Min(g.West, g.East), math.Min(g.South, g.North)},
		Max: orb.Point{math.Max(g.West, g.East), math.Max(g.South, g.North)},
	}
}

// Degenerate reports a box with zero width or zero height.
func (g GeographicElement) Degenerate() bool {
	return g.West == g.East || g.South == g.North
}

// Valid reports whether all four coordinates are finite.
func (g GeographicElement) Valid() bool {
	for _, v := range []float64{g.West, g.South, g.East, g.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// OnlineResource is one network-addressable service endpoint backing a layer.
type OnlineResource struct {
	URL                string              `json:"url" yaml:"url" doc:"Service endpoint URL" example:"https://example.org/geoserver/wms"`
	Name               string              `json:"name" yaml:"name" doc:"Protocol specific identifier (e.g. WMS layer name)" example:"gsmlp:BoreholeView"`
	Type               ResourceType        `json:"type" yaml:"type" doc:"Protocol type" example:"WMS"`
	Description        string              `json:"description,omitempty" yaml:"description,omitempty" doc:"Free text description"`
	Style              string              `json:"style,omitempty" yaml:"style,omitempty" doc:"Style or filter document"`
	GeographicElements []GeographicElement `json:"geographicElements,omitempty" yaml:"geographicElements,omitempty" doc:"Extents inherited from the owning record"`
}

// CatalogRecord is descriptive and spatial metadata for a dataset.
type CatalogRecord struct {
	ID                 string              `json:"id" yaml:"id" doc:"Record identifier" example:"borehole-nvcl"`
	Title              string              `json:"title" yaml:"title" doc:"Record title" example:"NVCL boreholes"`
	Description        string              `json:"description,omitempty" yaml:"description,omitempty" doc:"Abstract"`
	Resources          []OnlineResource    `json:"onlineResources" yaml:"onlineResources" doc:"Online resources"`
	GeographicElements []GeographicElement `json:"geographicElements,omitempty" yaml:"geographicElements,omitempty" doc:"Bounding boxes"`
}

// HasType reports whether the record carries a resource of type t.
func (r CatalogRecord) HasType(t ResourceType) bool {
	for _, res := range r.Resources {
		if res.Type == t {
			return true
		}
	}
	return false
}

// HasBBox reports whether the record has at least one usable geographic element.
func (r CatalogRecord) HasBBox() bool {
	for _, g := range r.GeographicElements {
		if g.Valid() {
			return true
		}
	}
	return false
}

// LayerDefinition is the serializable description of a layer, as received
// from the UI or restored from a saved session.
type LayerDefinition struct {
	ID             string             `json:"id,omitempty" yaml:"id,omitempty" doc:"Stable layer identifier" example:"nvcl-boreholes"`
	Name           string             `json:"name" yaml:"name" doc:"Display name" example:"NVCL Boreholes"`
	Group          string             `json:"group,omitempty" yaml:"group,omitempty" doc:"UI category" example:"Boreholes"`
	Records        []CatalogRecord    `json:"cswRecords" yaml:"cswRecords" doc:"Catalog records"`
	BoundingBox    *GeographicElement `json:"boundingBox,omitempty" yaml:"boundingBox,omitempty" doc:"Pre-computed extent used for the initial fly-to"`
	Opacity        *float64           `json:"opacity,omitempty" yaml:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Initial opacity (0-1)"`
	SplitDirection SplitDirection     `json:"splitDirection,omitempty" yaml:"splitDirection,omitempty" enum:"NONE,LEFT,RIGHT" doc:"Split pane"`
}

// Layer is a user-visible map dataset composed of one or more online resources.
// Identity and records are immutable once created; rendered primitives and
// attributes are guarded by the layer's own lock.
type Layer struct {
	ID          string
	Name        string
	Group       string
	Records     []CatalogRecord
	BoundingBox *GeographicElement

	mu          sync.Mutex
	primitives  []Handle
	split       SplitDirection
	opacity     float64
	initialLoad bool
	registered  bool
}

// NewLayer creates a layer from its definition. Each resource inherits the
// geographic elements of its owning record.
func NewLayer(def LayerDefinition) *Layer {
	l := &Layer{
		ID:          def.ID,
		Name:        def.Name,
		Group:       def.Group,
		BoundingBox: def.BoundingBox,
		split:       def.SplitDirection,
		opacity:     1.0,
		initialLoad: true,
	}
	if l.split == "" {
		l.split = SplitNone
	}
	if def.Opacity != nil {
		l.opacity = clamp01(*def.Opacity)
	}
	l.Records = make([]CatalogRecord, len(def.Records))
	for i, rec := range def.Records {
		rec.Resources = append([]OnlineResource(nil), rec.Resources...)
		for j := range rec.Resources {
			if len(rec.Resources[j].GeographicElements) == 0 {
				rec.Resources[j].GeographicElements = rec.GeographicElements
			}
		}
		l.Records[i] = rec
	}
	return l
}

// Definition returns the serializable form of the layer with its current attributes.
func (l *Layer) Definition() LayerDefinition {
	l.mu.Lock()
	op := l.opacity
	split := l.split
	l.mu.Unlock()
	return LayerDefinition{
		ID:             l.ID,
		Name:           l.Name,
		Group:          l.Group,
		Records:        l.Records,
		BoundingBox:    l.BoundingBox,
		Opacity:        &op,
		SplitDirection: split,
	}
}

// Resources returns every online resource across the layer's records, in catalog order.
func (l *Layer) Resources() []OnlineResource {
	var out []OnlineResource
	for _, rec := range l.Records {
		out = append(out, rec.Resources...)
	}
	return out
}

// ResourcesOfType returns the resources of type t, in catalog order.
func (l *Layer) ResourcesOfType(t ResourceType) []OnlineResource {
	var out []OnlineResource
	for _, rec := range l.Records {
		for _, res := range rec.Resources {
			if res.Type == t {
				out = append(out, res)
			}
		}
	}
	return out
}

// HasResourceType reports whether any record carries a resource of type t.
func (l *Layer) HasResourceType(t ResourceType) bool {
	for _, rec := range l.Records {
		if rec.HasType(t) {
			return true
		}
	}
	return false
}

// HasBBox reports whether any record has a usable geographic element.
func (l *Layer) HasBBox() bool {
	for _, rec := range l.Records {
		if rec.HasBBox() {
			return true
		}
	}
	return false
}

// Primitives returns a copy of the renderer handles owned by the layer.
func (l *Layer) Primitives() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Handle(nil), l.primitives...)
}

// OwnsPrimitive reports whether h is one of the layer's handles.
func (l *Layer) OwnsPrimitive(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.primitives {
		if p == h {
			return true
		}
	}
	return false
}

// Opacity returns the current opacity.
func (l *Layer) Opacity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opacity
}

// SplitDirection returns the current split pane assignment.
func (l *Layer) SplitDirection() SplitDirection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.split
}

// InitialLoad reports whether the layer has not yet been used for the initial fly-to.
func (l *Layer) InitialLoad() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialLoad
}

func (l *Layer) appendPrimitive(h Handle) {
	l.mu.Lock()
	l.primitives = append(l.primitives, h)
	l.mu.Unlock()
}

// takePrimitives clears the handle list and returns what it held.
func (l *Layer) takePrimitives() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.primitives
	l.primitives = nil
	return out
}

func (l *Layer) setOpacity(v float64) {
	l.mu.Lock()
	l.opacity = clamp01(v)
	l.mu.Unlock()
}

func (l *Layer) setSplit(d SplitDirection) {
	l.mu.Lock()
	l.split = d
	l.mu.Unlock()
}

// consumeInitialLoad clears the initial-load flag and reports whether it was set.
func (l *Layer) consumeInitialLoad() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.initialLoad
	l.initialLoad = false
	return was
}

// markRegistered reports true only for the first call.
func (l *Layer) markRegistered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.registered {
		return false
	}
	l.registered = true
	return true
}

// clearRegistration lets a torn-down layer be registered again on re-add.
func (l *Layer) clearRegistration() {
	l.mu.Lock()
	l.registered = false
	l.mu.Unlock()
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// LayerView is the JSON projection of a layer.
type LayerView struct {
	ID             string             `json:"id" doc:"Layer identifier"`
	Name           string             `json:"name" doc:"Display name"`
	Group          string             `json:"group,omitempty" doc:"UI category"`
	Loader         ResourceType       `json:"loader" doc:"Resource type of the loader rendering the layer"`
	Records        []CatalogRecord    `json:"cswRecords" doc:"Catalog records"`
	BoundingBox    *GeographicElement `json:"boundingBox,omitempty" doc:"Pre-computed extent"`
	Opacity        float64            `json:"opacity" doc:"Opacity (0-1)"`
	SplitDirection SplitDirection     `json:"splitDirection" doc:"Split pane"`
	Primitives     int                `json:"primitives" doc:"Number of renderer primitives attached"`
	InitialLoad    bool               `json:"initialLoad" doc:"True until the layer extent was used for the initial fly-to"`
}

// View projects the layer for API responses.
func (l *Layer) View() LayerView {
	l.mu.Lock()
	defer l.mu.Unlock()
	loader, _ := Classify(l)
	return LayerView{
		ID:             l.ID,
		Name:           l.Name,
		Group:          l.Group,
		Loader:         loader,
		Records:        l.Records,
		BoundingBox:    l.BoundingBox,
		Opacity:        l.opacity,
		SplitDirection: l.split,
		Primitives:     len(l.primitives),
		InitialLoad:    l.initialLoad,
	}
}
