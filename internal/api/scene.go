package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-portal/internal/scene"
	"github.com/joeblew999/plat-portal/internal/tiler"
)

type FeaturesOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type TileInput struct {
	IDInput
	Z int `path:"z" minimum:"0" doc:"Zoom"`
	X int `path:"x" minimum:"0" doc:"Tile column"`
	Y int `path:"y" minimum:"0" doc:"Tile row"`
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	Body            []byte
}

type MarkerRequest struct {
	Lon float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Longitude" example:"133.77"`
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"-25.27"`
}

type MarkerBody struct {
	Handle uint64 `json:"handle" doc:"Renderer handle of the marker"`
}

// RegisterScene registers the read-only view of the headless renderer and
// the geocoder marker route. Skipped when no scene is wired.
func (h *APIHandler) RegisterScene(api huma.API) {
	if h.svc.Scene == nil {
		return
	}
	tags := huma.OperationTags("map")
	huma.Get(api, "/api/v1/map/scene", h.GetScene, tags)
	huma.Post(api, "/api/v1/map/marker", h.AddMarker, tags)
	huma.Get(api, "/api/v1/layers/{id}/features", h.GetFeatures, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("layers"))
}

func (h *APIHandler) GetScene(ctx context.Context, input *struct{}) (*struct{ Body scene.Snapshot }, error) {
	return &struct{ Body scene.Snapshot }{Body: h.svc.Scene.Snapshot()}, nil
}

// AddMarker drops a transient marker; clicks on it are not attributed to any layer.
func (h *APIHandler) AddMarker(ctx context.Context, input *struct{ Body MarkerRequest }) (*struct{ Body MarkerBody }, error) {
	hd := h.svc.Scene.AddMarker(orb.Point{input.Body.Lon, input.Body.Lat})
	return &struct{ Body MarkerBody }{Body: MarkerBody{Handle: uint64(hd)}}, nil
}

// GetFeatures returns the vector features rendered for a layer as GeoJSON.
func (h *APIHandler) GetFeatures(ctx context.Context, input *IDInput) (*FeaturesOutput, error) {
	if _, ok := h.svc.Engine.Layer(input.ID); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	data, err := h.svc.Scene.FeatureCollection(input.ID).MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("encode features", err)
	}
	return &FeaturesOutput{ContentType: "application/geo+json", Body: data}, nil
}

// GetTile returns the layer's vector shapes in one gzipped Mapbox Vector
// Tile, or 204 when the tile is empty.
func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if _, ok := h.svc.Engine.Layer(input.ID); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	tile, err := tiler.ParseTile(input.Z, input.X, input.Y)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	data, err := tiler.Encode(h.svc.Scene.TileFeatures(input.ID), tile, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("encode tile", err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		Body:            data,
	}, nil
}
