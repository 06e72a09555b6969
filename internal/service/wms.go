package service

import (
	"context"
	"fmt"

	"github.com/joeblew999/plat-portal/internal/ogc"
)

// NewWMSLoader renders each WMS resource as one imagery primitive. The
// endpoint is probed with GetCapabilities first so unreachable services are
// reported as failed instead of producing empty tiles.
func NewWMSLoader(deps LoaderDeps) ResourceLoader {
	l := newAsyncLoader(ResourceWMS, deps, nil)
	l.opacity = true
	l.convert = func(ctx context.Context, layer *Layer, res OnlineResource, _ LoadOptions) ([]PrimitiveSpec, error) {
		if l.deps.Fetcher != nil {
			if _, err := l.deps.Fetcher.Fetch(ctx, ogc.WMSCapabilitiesURL(res.URL)); err != nil {
				return nil, fmt.Errorf("capabilities: %w", err)
			}
		}
		return []PrimitiveSpec{{
			Kind:    PrimitiveImagery,
			LayerID: layer.ID,
			Name:    res.Name,
			Imagery: &ImagerySpec{URL: res.URL, Params: ogc.WMSGetMapParams(res.Name, res.Style)},
			Opacity: layer.Opacity(),
			Split:   layer.SplitDirection(),
		}}, nil
	}
	return l
}
