// Package ogc builds request URLs for the OGC and FDSN services backing map layers.
package ogc

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// DefaultOutputFormat is requested from WFS and VMF endpoints.
const DefaultOutputFormat = "application/json"

// WithParams appends params to base, keeping any query already present.
// Parameter names already set on base are overridden.
func WithParams(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + params.Encode()
	}
	q := u.Query()
	for k := range q {
		for pk := range params {
			if strings.EqualFold(pk, k) {
				q.Del(k)
				break
			}
		}
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// BBoxString formats a bound as minx,miny,maxx,maxy.
func BBoxString(b orb.Bound) string {
	return strings.Join([]string{ff(b.Min[0]), ff(b.Min[1]), ff(b.Max[0]), ff(b.Max[1])}, ",")
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// WMSCapabilitiesURL is the GetCapabilities request used to probe a WMS endpoint.
func WMSCapabilitiesURL(base string) string {
	params := url.Values{}
	params.Set("service", "WMS")
	params.Set("request", "GetCapabilities")
	params.Set("version", "1.3.0")
	return WithParams(base, params)
}

// WMSGetMapParams are the tile request parameters of one WMS layer. The
// renderer adds bbox, width and height per tile. style is an SLD document,
// a CQL filter or a named style.
func WMSGetMapParams(layer, style string) map[string]string {
	p := map[string]string{
		"service":     "WMS",
		"request":     "GetMap",
		"version":     "1.3.0",
		"layers":      layer,
		"format":      "image/png",
		"transparent": "true",
		"crs":         "EPSG:4326",
		"styles":      "",
	}
	switch s := strings.TrimSpace(style); {
	case s == "":
	case strings.HasPrefix(s, "<"):
		p["sld_body"] = s
	case strings.ContainsAny(s, " =<>()"):
		p["cql_filter"] = s
	default:
		p["styles"] = s
	}
	return p
}

// WMSGetFeatureInfoURL queries the features of a WMS layer around pt. The
// query window is pt expanded by margin degrees, sampled at its centre pixel.
func WMSGetFeatureInfoURL(base, layer string, pt orb.Point, margin float64) string {
	const size = 101
	b := orb.Bound{Min: pt, Max: pt}.Pad(margin)
	params := url.Values{}
	params.Set("service", "WMS")
	params.Set("request", "GetFeatureInfo")
	params.Set("version", "1.1.1")
	params.Set("layers", layer)
	params.Set("query_layers", layer)
	params.Set("srs", "EPSG:4326")
	params.Set("bbox", BBoxString(b))
	params.Set("width", strconv.Itoa(size))
	params.Set("height", strconv.Itoa(size))
	params.Set("x", strconv.Itoa(size/2))
	params.Set("y", strconv.Itoa(size/2))
	params.Set("info_format", DefaultOutputFormat)
	params.Set("feature_count", "20")
	return WithParams(base, params)
}

// WFSGetFeatureParams builds a GetFeature query. A polygon, when present,
// replaces the bbox and is combined with filter as a CQL INTERSECTS clause.
func WFSGetFeatureParams(typeName string, bbox *orb.Bound, poly orb.Polygon, filter string) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeNames", typeName)
	switch {
	case len(poly) > 0:
		cql := fmt.Sprintf("INTERSECTS(geom, %s)", wkt.MarshalString(poly))
		if filter != "" {
			cql = fmt.Sprintf("(%s) AND (%s)", filter, cql)
		}
		params.Set("cql_filter", cql)
	case filter != "":
		params.Set("cql_filter", filter)
		if bbox != nil {
			params.Set("bbox", BBoxString(*bbox))
		}
	case bbox != nil:
		params.Set("bbox", BBoxString(*bbox))
	}
	params.Set("outputFormat", DefaultOutputFormat)
	return params
}

// WFSGetFeatureURL is WFSGetFeatureParams applied to base.
func WFSGetFeatureURL(base, typeName string, bbox *orb.Bound, poly orb.Polygon, filter string) string {
	return WithParams(base, WFSGetFeatureParams(typeName, bbox, poly, filter))
}

// VMFQueryURL asks a VMF endpoint for the features of name inside poly.
func VMFQueryURL(base, name string, poly orb.Polygon) string {
	params := url.Values{}
	params.Set("layer", name)
	params.Set("format", "geojson")
	if len(poly) > 0 {
		params.Set("polygon", wkt.MarshalString(poly))
	}
	return WithParams(base, params)
}

// IRISStationURL is the FDSN station query of one network, in the
// pipe-delimited text format. The network is the resource name; bbox may be empty.
func IRISStationURL(base, network string, bbox orb.Bound) string {
	params := url.Values{}
	if network != "" {
		params.Set("net", network)
	}
	params.Set("level", "station")
	params.Set("format", "text")
	if !bbox.IsZero() {
		params.Set("minlongitude", ff(bbox.Min[0]))
		params.Set("minlatitude", ff(bbox.Min[1]))
		params.Set("maxlongitude", ff(bbox.Max[0]))
		params.Set("maxlatitude", ff(bbox.Max[1]))
	}
	endpoint := strings.TrimRight(base, "/")
	if !strings.Contains(endpoint, "/fdsnws/") {
		endpoint += "/fdsnws/station/1/query"
	}
	return WithParams(endpoint, params)
}
