package service

import (
	"context"
	"strings"

	"github.com/paulmach/orb"
)

// LoaderCSW is the pseudo resource type of the bounding-box fallback loader.
const LoaderCSW ResourceType = "CSW"

// DegenerateBoxSize is the side, in degrees, of the square drawn for a
// zero-width or zero-height geographic element.
const DegenerateBoxSize = 0.02

// NewCSWLoader draws a rectangle and a label per geographic element of every
// record, straight from catalog metadata. It runs synchronously.
func NewCSWLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(LoaderCSW, deps, convertBBoxes)
	l.opacity = true
	l.inline = true
	l.plan = cswUnits
	return l
}

// cswUnits turns each record with a bounding box into one pseudo resource.
func cswUnits(layer *Layer) []OnlineResource {
	var out []OnlineResource
	for _, rec := range layer.Records {
		if !rec.HasBBox() {
			continue
		}
		out = append(out, OnlineResource{
			URL:                "csw:" + rec.ID,
			Name:               rec.Title,
			Type:               LoaderCSW,
			GeographicElements: rec.GeographicElements,
		})
	}
	return out
}

func convertBBoxes(_ context.Context, layer *Layer, res OnlineResource, _ LoadOptions) ([]PrimitiveSpec, error) {
	label := strings.TrimSpace(res.Name)
	if label == "" {
		label = layer.Name
	}
	var specs []PrimitiveSpec
	for _, g := range res.GeographicElements {
		if !g.Valid() {
			continue
		}
		rect := PrimitiveSpec{
			Kind:     PrimitiveRectangle,
			LayerID:  layer.ID,
			Name:     label,
			Geometry: BBoxGeometry(g),
			Opacity:  layer.Opacity(),
			Split:    layer.SplitDirection(),
		}
		specs = append(specs, rect, PrimitiveSpec{
			Kind:     PrimitiveLabel,
			LayerID:  layer.ID,
			Name:     label,
			Label:    label,
			Geometry: g.Bound().Center(),
			Opacity:  layer.Opacity(),
			Split:    layer.SplitDirection(),
		})
	}
	return specs, nil
}

// BBoxGeometry is the polygon drawn for a geographic element. Degenerate
// elements become a DegenerateBoxSize square centred on the element.
func BBoxGeometry(g GeographicElement) orb.Polygon {
	b := g.Bound()
	if g.Degenerate() {
		b = orb.Bound{Min: b.Center(), Max: b.Center()}.Pad(DegenerateBoxSize / 2)
	}
	return b.ToPolygon()
}
