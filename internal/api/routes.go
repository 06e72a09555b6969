// Package api defines the Huma API routes and handlers of the map portal.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-portal/internal/catalog"
	"github.com/joeblew999/plat-portal/internal/scene"
	"github.com/joeblew999/plat-portal/internal/service"
)

// Services holds the dependencies of the API handlers. Catalog and Scene may be nil.
type Services struct {
	Engine  *service.Engine
	Catalog *catalog.Store
	Scene   *scene.Scene
	Info    InfoBody
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"nvcl-boreholes"`
}

// LayerBody is a layer with its current actions.
type LayerBody struct {
	service.LayerView
	Loading bool `json:"loading" doc:"True while resources are still being fetched"`
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []service.LayerView
}

// AddLayerRequest is a layer definition plus per-load options.
type AddLayerRequest struct {
	service.LayerDefinition
	Options *service.LoadOptions `json:"options,omitempty" doc:"Load options"`
}

type OpacityRequest struct {
	Opacity float64 `json:"opacity" doc:"Opacity, clamped to 0-1" example:"0.5"`
}

type SplitRequest struct {
	SplitDirection service.SplitDirection `json:"splitDirection" enum:"NONE,LEFT,RIGHT" doc:"Split pane"`
}

type MoveRequest struct {
	From int `json:"from" minimum:"0" doc:"Current index (0 is the bottom)"`
	To   int `json:"to" minimum:"0" doc:"Target index"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
	Layers  int    `json:"layers" doc:"Active layers"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route of the portal.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

// RegisterLayers registers the layer lifecycle and attribute routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	tags := huma.OperationTags("layers")
	huma.Get(api, "/api/v1/layers", h.GetLayers, tags)
	huma.Post(api, "/api/v1/layers", h.AddLayer, tags, accepted)
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, tags)
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, tags)
	huma.Get(api, "/api/v1/layers/{id}/status", h.GetStatus, tags)
	huma.Put(api, "/api/v1/layers/{id}/opacity", h.PutOpacity, tags)
	huma.Put(api, "/api/v1/layers/{id}/split", h.PutSplit, tags)
	huma.Post(api, "/api/v1/layers/move", h.MoveLayer, tags)
}

func accepted(o *huma.Operation) { o.DefaultStatus = http.StatusAccepted }

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{
		Status:  "ok",
		Version: h.svc.Info.Version,
		Layers:  len(h.svc.Engine.Layers()),
	}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	layers := h.svc.Engine.Layers()
	out := make([]service.LayerView, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.View())
	}
	return &LayersOutput{Body: out}, nil
}

func (h *APIHandler) AddLayer(ctx context.Context, input *struct{ Body AddLayerRequest }) (*LayerOutput, error) {
	var opts service.LoadOptions
	if input.Body.Options != nil {
		opts = *input.Body.Options
	}
	return h.addLayer(ctx, service.NewLayer(input.Body.LayerDefinition), opts)
}

func (h *APIHandler) addLayer(ctx context.Context, layer *service.Layer, opts service.LoadOptions) (*LayerOutput, error) {
	if err := h.svc.Engine.AddLayer(ctx, layer, opts); err != nil {
		return nil, problem(err)
	}
	return &LayerOutput{Body: h.layerBody(layer)}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	layer, ok := h.svc.Engine.Layer(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: h.layerBody(layer)}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{}, error) {
	if err := h.svc.Engine.RemoveLayerByID(input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{}{}, nil
}

func (h *APIHandler) GetStatus(ctx context.Context, input *IDInput) (*struct{ Body service.LayerStatus }, error) {
	if _, ok := h.svc.Engine.Layer(input.ID); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &struct{ Body service.LayerStatus }{Body: h.svc.Engine.Status(input.ID)}, nil
}

func (h *APIHandler) PutOpacity(ctx context.Context, input *struct {
	IDInput
	Body OpacityRequest
}) (*LayerOutput, error) {
	if err := h.svc.Engine.SetLayerOpacity(input.ID, input.Body.Opacity); err != nil {
		return nil, problem(err)
	}
	return h.GetLayer(ctx, &input.IDInput)
}

func (h *APIHandler) PutSplit(ctx context.Context, input *struct {
	IDInput
	Body SplitRequest
}) (*LayerOutput, error) {
	if err := h.svc.Engine.SetLayerSplitDirection(input.ID, input.Body.SplitDirection); err != nil {
		return nil, problem(err)
	}
	return h.GetLayer(ctx, &input.IDInput)
}

func (h *APIHandler) MoveLayer(ctx context.Context, input *struct{ Body MoveRequest }) (*LayersOutput, error) {
	if err := h.svc.Engine.MoveLayer(input.Body.From, input.Body.To); err != nil {
		return nil, problem(err)
	}
	return h.GetLayers(ctx, nil)
}

func (h *APIHandler) layerBody(layer *service.Layer) LayerBody {
	return LayerBody{LayerView: layer.View(), Loading: h.svc.Engine.Loading(layer.ID)}
}

// problem maps engine errors to HTTP errors.
func problem(err error) error {
	switch {
	case errors.Is(err, service.ErrLayerNotFound), errors.Is(err, catalog.ErrRecordNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrNoSuitableLoader):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrUnsupportedAttribute):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrInvalidMove):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
