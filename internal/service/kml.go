package service

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type kmlCoords struct {
	Coordinates string `xml:"coordinates"`
}

type kmlRing struct {
	LinearRing kmlCoords `xml:"LinearRing"`
}

type kmlPolygon struct {
	Outer kmlRing   `xml:"outerBoundaryIs"`
	Inner []kmlRing `xml:"innerBoundaryIs"`
}

type kmlGeometries struct {
	Points      []kmlCoords     `xml:"Point"`
	LineStrings []kmlCoords     `xml:"LineString"`
	Polygons    []kmlPolygon    `xml:"Polygon"`
	Multi       []kmlGeometries `xml:"MultiGeometry"`
}

type kmlPlacemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	kmlGeometries
}

// ParseKML extracts the Placemarks of a KML document, at any nesting depth,
// as GeoJSON features. Placemarks without usable coordinates are dropped.
func ParseKML(data []byte) (*geojson.FeatureCollection, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	fc := geojson.NewFeatureCollection()
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("kml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Placemark" {
			continue
		}
		var pm kmlPlacemark
		if err := dec.DecodeElement(&pm, &se); err != nil {
			return nil, fmt.Errorf("kml placemark: %w", err)
		}
		geom := pm.geometry()
		if geom == nil {
			continue
		}
		f := geojson.NewFeature(geom)
		if pm.Name != "" {
			f.Properties["name"] = strings.TrimSpace(pm.Name)
		}
		if pm.Description != "" {
			f.Properties["description"] = strings.TrimSpace(pm.Description)
		}
		fc.Append(f)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("kml: no placemarks with geometry")
	}
	return fc, nil
}

func (g kmlGeometries) collect() orb.Collection {
	var out orb.Collection
	for _, p := range g.Points {
		if ls := parseKMLCoords(p.Coordinates); len(ls) > 0 {
			out = append(out, ls[0])
		}
	}
	for _, l := range g.LineStrings {
		if ls := parseKMLCoords(l.Coordinates); len(ls) > 1 {
			out = append(out, ls)
		}
	}
	for _, p := range g.Polygons {
		outer := orb.Ring(parseKMLCoords(p.Outer.LinearRing.Coordinates))
		if len(outer) < 4 {
			continue
		}
		poly := orb.Polygon{outer}
		for _, in := range p.Inner {
			if r := orb.Ring(parseKMLCoords(in.LinearRing.Coordinates)); len(r) >= 4 {
				poly = append(poly, r)
			}
		}
		out = append(out, poly)
	}
	for _, m := range g.Multi {
		out = append(out, m.collect()...)
	}
	return out
}

func (pm kmlPlacemark) geometry() orb.Geometry {
	c := pm.collect()
	switch len(c) {
	case 0:
		return nil
	case 1:
		return c[0]
	}
	return c
}

// parseKMLCoords parses "lon,lat[,alt]" tuples separated by whitespace.
func parseKMLCoords(s string) orb.LineString {
	var ls orb.LineString
	for _, tuple := range strings.Fields(s) {
		vals := strings.Split(tuple, ",")
		if len(vals) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64)
		lat, err2 := strconv.ParseFloat(strings.TrimSpace(vals[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		ls = append(ls, orb.Point{lon, lat})
	}
	return ls
}

// UnpackKMZ returns the first .kml entry of a KMZ archive, preferring doc.kml.
func UnpackKMZ(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("kmz: %w", err)
	}
	var entry *zip.File
	for _, f := range zr.File {
		if !strings.EqualFold(path.Ext(f.Name), ".kml") {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), "doc.kml") {
			entry = f
			break
		}
		if entry == nil {
			entry = f
		}
	}
	if entry == nil {
		return nil, errors.New("kmz: no kml entry")
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("kmz %s: %w", entry.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
