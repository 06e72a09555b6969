package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-portal/internal/ogc"
)

// NewIRISLoader renders the stations of an FDSN network as points. The
// resource name is the network code.
func NewIRISLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(ResourceIRIS, deps, nil)
	l.convert = func(ctx context.Context, layer *Layer, res OnlineResource, _ LoadOptions) ([]PrimitiveSpec, error) {
		if l.deps.Fetcher == nil {
			return nil, errors.New("no fetcher configured")
		}
		b, _ := resourceBound(res)
		data, err := l.deps.Fetcher.Fetch(ctx, ogc.IRISStationURL(res.URL, res.Name, b))
		if err != nil {
			return nil, err
		}
		fc, err := ParseStationText(data)
		if err != nil {
			return nil, err
		}
		return []PrimitiveSpec{{
			Kind:     PrimitivePoint,
			LayerID:  layer.ID,
			Name:     res.Name,
			Features: fc,
			Opacity:  layer.Opacity(),
			Split:    layer.SplitDirection(),
		}}, nil
	}
	return l
}

// ParseStationText reads the FDSN station text format:
//
//	#Network | Station | Latitude | Longitude | Elevation | SiteName | StartTime | EndTime
func ParseStationText(data []byte) (*geojson.FeatureCollection, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '|'
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	fc := geojson.NewFeatureCollection()
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("station text: %w", err)
		}
		if len(rec) < 4 {
			return nil, fmt.Errorf("station text line %d: %d fields, want at least 4", line, len(rec))
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("station text line %d: bad coordinates %q,%q", line, rec[2], rec[3])
		}
		f := geojson.NewFeature(orb.Point{lon, lat})
		f.Properties["network"] = strings.TrimSpace(rec[0])
		f.Properties["station"] = strings.TrimSpace(rec[1])
		if len(rec) > 5 {
			f.Properties["site"] = strings.TrimSpace(rec[5])
		}
		fc.Append(f)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("station text: no stations")
	}
	return fc, nil
}
