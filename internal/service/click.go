package service

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-portal/internal/ogc"
)

const (
	// DefaultClickMargin expands every bounding box, in degrees, before the
	// containment test so clicks on the boundary land.
	DefaultClickMargin = 0.05
	// DefaultDragThreshold is the pointer travel, in pixels, from which a
	// click is treated as a pan.
	DefaultDragThreshold = 2.0
)

// ClickEvent is one button-down/button-up pair on the map.
type ClickEvent struct {
	Down Pixel `json:"down" doc:"Pixel of the button press"`
	Up   Pixel `json:"up" doc:"Pixel of the button release"`
}

// Distance is the pointer travel between press and release.
func (e ClickEvent) Distance() float64 {
	return math.Hypot(e.Up.X-e.Down.X, e.Up.Y-e.Down.Y)
}

// ClickedLayer is a layer whose extent contains the click.
type ClickedLayer struct {
	Layer                *Layer   `json:"-"`
	LayerID              string   `json:"layerId" doc:"Layer identifier"`
	Name                 string   `json:"name" doc:"Layer name"`
	MatchedRecordIndices []int    `json:"matchedRecordIndices" doc:"Indices of the records whose extents contain the click"`
	Queries              []string `json:"queries,omitempty" doc:"Feature info requests for the matched records"`
}

// ClickedEntity is a directly picked renderer entity.
type ClickedEntity struct {
	Handle  Handle `json:"handle" doc:"Renderer entity handle"`
	LayerID string `json:"layerId,omitempty" doc:"Owning layer, empty if none"`
}

// ClickResult is everything a click resolved to.
type ClickResult struct {
	ClickedLayers   []ClickedLayer  `json:"clickedLayers"`
	ClickedEntities []ClickedEntity `json:"clickedEntities"`
	ScreenPixel     Pixel           `json:"screenPixel"`
	WorldCoordinate orb.Point       `json:"worldCoordinate" doc:"Clicked [lon, lat]"`
}

// Empty reports a click that hit nothing.
func (r ClickResult) Empty() bool {
	return len(r.ClickedLayers) == 0 && len(r.ClickedEntities) == 0
}

// ClickResolver turns map clicks into the layers and entities under them.
type ClickResolver struct {
	registry      *LayerRegistry
	renderer      Renderer
	logger        *slog.Logger
	margin        float64
	dragThreshold float64
}

// NewClickResolver uses the default margin and drag threshold for zero values.
func NewClickResolver(registry *LayerRegistry, renderer Renderer, logger *slog.Logger, margin, dragThreshold float64) *ClickResolver {
	if margin <= 0 {
		margin = DefaultClickMargin
	}
	if dragThreshold <= 0 {
		dragThreshold = DefaultDragThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClickResolver{
		registry:      registry,
		renderer:      renderer,
		logger:        logger,
		margin:        margin,
		dragThreshold: dragThreshold,
	}
}

// ClickOutcome classifies a handled click.
type ClickOutcome string

const (
	ClickDrag  ClickOutcome = "drag"
	ClickEmpty ClickOutcome = "empty"
	ClickHit   ClickOutcome = "hit"
)

// HandleClick applies the drag filter and resolves the release pixel. ok is
// false for drags and for clicks that hit nothing.
func (c *ClickResolver) HandleClick(ev ClickEvent) (ClickResult, bool) {
	res, outcome := c.handle(ev)
	return res, outcome == ClickHit
}

func (c *ClickResolver) handle(ev ClickEvent) (ClickResult, ClickOutcome) {
	if ev.Distance() >= c.dragThreshold {
		return ClickResult{}, ClickDrag
	}
	res := c.Resolve(ev.Up)
	if res.Empty() {
		return res, ClickEmpty
	}
	return res, ClickHit
}

// Resolve returns the layers whose expanded extents contain the world point
// under px, plus the entities picked at px.
func (c *ClickResolver) Resolve(px Pixel) ClickResult {
	result := ClickResult{ScreenPixel: px}
	pt, ok := c.renderer.ScreenToWorld(px)
	if !ok {
		return result
	}
	result.WorldCoordinate = pt

	for _, layer := range c.registry.List() {
		if !clickable(layer) {
			continue
		}
		if hit, ok := c.testLayer(layer, pt); ok {
			result.ClickedLayers = append(result.ClickedLayers, hit)
		}
	}

	seen := make(map[Handle]bool)
	for _, e := range c.renderer.PickEntitiesAt(px) {
		if e.Transient || seen[e.Handle] {
			continue
		}
		seen[e.Handle] = true
		ce := ClickedEntity{Handle: e.Handle}
		if owner, ok := c.registry.FindOwnerOfEntity(e.Handle); ok {
			ce.LayerID = owner.ID
		}
		result.ClickedEntities = append(result.ClickedEntities, ce)
	}
	return result
}

func clickable(l *Layer) bool {
	return l.HasResourceType(ResourceWMS) || l.HasResourceType(ResourceWWW) || l.HasBBox()
}

func (c *ClickResolver) testLayer(layer *Layer, pt orb.Point) (ClickedLayer, bool) {
	hit := ClickedLayer{Layer: layer, LayerID: layer.ID, Name: layer.Name}
	for i, rec := range layer.Records {
		if !rec.HasBBox() {
			c.logger.Warn("skipping record in click resolution",
				"layer", layer.ID, "record", rec.ID, "err", fmt.Errorf("%w: record %q", ErrSpatialMetadataMissing, rec.ID))
			continue
		}
		if !c.recordContains(rec, pt) {
			continue
		}
		hit.MatchedRecordIndices = append(hit.MatchedRecordIndices, i)
		hit.Queries = append(hit.Queries, c.featureQueries(rec, pt)...)
	}
	return hit, len(hit.MatchedRecordIndices) > 0
}

func (c *ClickResolver) recordContains(rec CatalogRecord, pt orb.Point) bool {
	for _, g := range rec.GeographicElements {
		if !g.Valid() {
			continue
		}
		if planar.PolygonContains(g.Bound().Pad(c.margin).ToPolygon(), pt) {
			return true
		}
	}
	return false
}

// featureQueries are the requests a UI issues to describe the features of a
// matched record at pt.
func (c *ClickResolver) featureQueries(rec CatalogRecord, pt orb.Point) []string {
	var out []string
	window := orb.Bound{Min: pt, Max: pt}.Pad(c.margin)
	for _, res := range rec.Resources {
		switch res.Type {
		case ResourceWMS:
			out = append(out, ogc.WMSGetFeatureInfoURL(res.URL, res.Name, pt, c.margin))
		case ResourceWFS:
			out = append(out, ogc.WFSGetFeatureURL(res.URL, res.Name, &window, nil, ""))
		}
	}
	return out
}
