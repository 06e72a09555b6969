// Package tiler cuts the vector primitives of a layer into gzipped Mapbox
// Vector Tiles, so browser clients can draw layers the headless scene holds.
package tiler

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// MaxZoom is the deepest zoom level served.
const MaxZoom = 20

// ErrInvalidTile is returned for tile coordinates outside the pyramid.
var ErrInvalidTile = errors.New("invalid tile")

// ParseTile validates z/x/y and returns the tile.
func ParseTile(z, x, y int) (maptile.Tile, error) {
	if z < 0 || z > MaxZoom {
		return maptile.Tile{}, fmt.Errorf("%w: zoom %d outside 0-%d", ErrInvalidTile, z, MaxZoom)
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return maptile.Tile{}, fmt.Errorf("%w: %d/%d/%d", ErrInvalidTile, z, x, y)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

// Encode returns the features of fc that touch tile t as one MVT layer
// named layerName. It returns nil when nothing is left after clipping.
func Encode(fc *geojson.FeatureCollection, t maptile.Tile, layerName string) ([]byte, error) {
	bound := t.Bound()
	in := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if f.Geometry == nil || !touches(f.Geometry, bound) {
			continue
		}
		// mvt projects and clips in place
		clone := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			clone.Properties[k] = v
		}
		in.Append(clone)
	}
	if len(in.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(layerName, in)
	if eps := epsilon(t.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.ProjectToTile(t)
	layer.Clip(mvt.MapboxGLDefaultExtentBound)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}
	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encode tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	return data, nil
}

// touches is a bound test refined for points and polygons that only
// overlap the tile by their envelope.
func touches(g orb.Geometry, b orb.Bound) bool {
	if !g.Bound().Intersects(b) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return b.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if b.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if b.Contains(p) {
					return true
				}
			}
		}
		for _, corner := range b.ToRing()[:4] {
			if planar.PolygonContains(g, corner) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, p := range g {
			if touches(p, b) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, c := range g {
			if touches(c, b) {
				return true
			}
		}
		return false
	}
	return true
}

// epsilon is the Douglas-Peucker tolerance, in degrees, for a zoom level.
func epsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 14:
		return 0
	case z >= 10:
		return 0.00001
	case z >= 6:
		return 0.0001
	default:
		return 0.001
	}
}
