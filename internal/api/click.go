package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-portal/internal/service"
)

type ClickOutput struct {
	Status int
	Body   *service.ClickResult
}

// RegisterMap registers the map interaction routes.
func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Post(api, "/api/v1/map/click", h.Click, huma.OperationTags("map"),
		func(o *huma.Operation) {
			o.Summary = "Resolve a map click"
			o.Description = "Returns the layers and entities under the click, or 204 when the gesture was a drag or hit nothing."
		})
}

func (h *APIHandler) Click(ctx context.Context, input *struct{ Body service.ClickEvent }) (*ClickOutput, error) {
	res, ok := h.svc.Engine.HandleClick(input.Body)
	if !ok {
		return &ClickOutput{Status: http.StatusNoContent}, nil
	}
	return &ClickOutput{Status: http.StatusOK, Body: &res}, nil
}
