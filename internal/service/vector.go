package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-portal/internal/ogc"
)

// decodeFunc turns a fetched document into features.
type decodeFunc func(data []byte) (*geojson.FeatureCollection, error)

// vectorConverter fetches url(res) and renders the decoded features as one
// vector primitive.
func vectorConverter(l *asyncLoader, url func(res OnlineResource, opts LoadOptions) string, decode decodeFunc) convertFunc {
	return func(ctx context.Context, layer *Layer, res OnlineResource, opts LoadOptions) ([]PrimitiveSpec, error) {
		if l.deps.Fetcher == nil {
			return nil, errors.New("no fetcher configured")
		}
		data, err := l.deps.Fetcher.Fetch(ctx, url(res, opts))
		if err != nil {
			return nil, err
		}
		fc, err := decode(data)
		if err != nil {
			return nil, err
		}
		return []PrimitiveSpec{{
			Kind:     PrimitiveVector,
			LayerID:  layer.ID,
			Name:     res.Name,
			Features: fc,
			Opacity:  layer.Opacity(),
			Split:    layer.SplitDirection(),
		}}, nil
	}
}

func resourceURL(res OnlineResource, _ LoadOptions) string { return res.URL }

// NewGeoJSONLoader renders GeoJSON documents.
func NewGeoJSONLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(ResourceGeoJSON, deps, nil)
	l.convert = vectorConverter(l, resourceURL, DecodeGeoJSON)
	return l
}

// NewKMLLoader renders KML documents.
func NewKMLLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(ResourceKML, deps, nil)
	l.convert = vectorConverter(l, resourceURL, ParseKML)
	return l
}

// NewKMZLoader renders the KML document packed in a KMZ archive.
func NewKMZLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(ResourceKMZ, deps, nil)
	l.convert = vectorConverter(l, resourceURL, func(data []byte) (*geojson.FeatureCollection, error) {
		doc, err := UnpackKMZ(data)
		if err != nil {
			return nil, err
		}
		return ParseKML(doc)
	})
	return l
}

// NewVMFLoader renders VMF features inside the load polygon, or inside the
// resource extent when no polygon is given.
func NewVMFLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(ResourceVMF, deps, nil)
	l.convert = vectorConverter(l, func(res OnlineResource, opts LoadOptions) string {
		poly := opts.Polygon
		if len(poly) == 0 {
			if b, ok := resourceBound(res); ok {
				poly = b.ToPolygon()
			}
		}
		return ogc.VMFQueryURL(res.URL, res.Name, poly)
	}, DecodeGeoJSON)
	return l
}

// DecodeGeoJSON accepts a FeatureCollection, a single Feature or a bare geometry.
func DecodeGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		return fc, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}
	if g.Geometry() == nil {
		return nil, errors.New("geojson: empty document")
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g.Geometry()))
	return fc, nil
}

// resourceBound is the union of the resource's valid geographic elements.
func resourceBound(res OnlineResource) (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	for _, g := range res.GeographicElements {
		if !g.Valid() {
			continue
		}
		if !ok {
			b, ok = g.Bound(), true
			continue
		}
		b = b.Union(g.Bound())
	}
	return b, ok
}
