// Package stream contains the Datastar SSE handlers of the map UI: layer
// lifecycle events, per-layer load progress and click results.
package stream

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-portal/internal/humastar"
	"github.com/joeblew999/plat-portal/internal/service"
	"github.com/joeblew999/plat-portal/internal/templates"
)

const (
	layerListSelector   = "#layer-list"
	clickResultSelector = "#click-result"
)

// Handler streams engine state to the Datastar UI.
type Handler struct {
	humastar.Handler
	engine *service.Engine
}

func NewHandler(engine *service.Engine, renderer *templates.Renderer) *Handler {
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		engine:  engine,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("stream")
	huma.Get(api, "/api/v1/stream/events", h.Events, tags)
	huma.Get(api, "/api/v1/stream/layers/{id}/status", h.Status, tags)
	huma.Delete(api, "/api/v1/stream/layers/{id}", h.Remove, tags)
	huma.Post(api, "/api/v1/stream/click", h.Click, tags)
}

type LayerIDInput struct {
	ID string `path:"id" doc:"Layer ID"`
}

// Events patches the layer list on every lifecycle event and the click
// panel on every resolved click, until the client goes away.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		events := h.engine.Events().Subscribe()
		defer h.engine.Events().Unsubscribe(events)
		clicks := h.engine.Clicks().Subscribe()
		defer h.engine.Clicks().Unsubscribe(clicks)

		sse.Patch(h.renderLayers(), layerListSelector)
		done := ctx.Done()
		for {
			select {
			case <-done:
				return
			case ev := <-events:
				sse.Patch(h.renderLayers(), layerListSelector)
				_ = sse.DispatchCustomEvent("layer-changed", map[string]any{
					"action": ev.Action, "id": ev.ID,
				})
			case res := <-clicks:
				sse.Patch(h.Renderer.Fragment("click-result", res), clickResultSelector)
				_ = sse.DispatchCustomEvent("map-click", res)
			}
		}
	}), nil
}

// Status streams the load progress of one layer as signals and a status
// fragment. The stream ends once nothing is pending or the layer is removed.
func (h *Handler) Status(ctx context.Context, input *LayerIDInput) (*huma.StreamResponse, error) {
	if _, ok := h.engine.Layer(input.ID); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return h.Stream(func(sse humastar.SSE) {
		updates, unsubscribe := h.engine.StatusTracker().GetStatusSubject(input.ID)
		defer unsubscribe()

		done := ctx.Done()
		for {
			select {
			case <-done:
				return
			case st, ok := <-updates:
				if !ok {
					return
				}
				sse.Signals(map[string]any{"layerStatus": st})
				sse.Replace(h.Renderer.Fragment("layer-status", st), "#status-"+st.LayerID)
				if st.Done {
					return
				}
				if _, ok := h.engine.Layer(input.ID); !ok && st.Total == 0 {
					return
				}
			}
		}
	}), nil
}

// Remove tears a layer down and drops its row.
func (h *Handler) Remove(ctx context.Context, input *LayerIDInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		if err := h.engine.RemoveLayerByID(input.ID); err != nil {
			sse.Error(err.Error())
			return
		}
		_ = sse.RemoveElementByID("layer-" + input.ID)
	}), nil
}

// Click resolves the press/release pixels carried in the downx, downy, upx
// and upy signals.
func (h *Handler) Click(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"downx", "downy", "upx", "upy"} {
		if !signals.Has(k) {
			return nil, huma.Error400BadRequest(fmt.Sprintf("missing signal %q", k))
		}
	}
	ev := service.ClickEvent{
		Down: service.Pixel{X: signals.Float("downx"), Y: signals.Float("downy")},
		Up:   service.Pixel{X: signals.Float("upx"), Y: signals.Float("upy")},
	}
	return h.Stream(func(sse humastar.SSE) {
		res, ok := h.engine.HandleClick(ev)
		sse.Signals(map[string]any{"clickHit": ok})
		if ok {
			sse.Patch(h.Renderer.Fragment("click-result", res), clickResultSelector)
		}
	}), nil
}

func (h *Handler) renderLayers() string {
	layers := h.engine.Layers()
	items := make([]any, 0, len(layers))
	for i := len(layers) - 1; i >= 0; i-- {
		items = append(items, layers[i].View())
	}
	return h.RenderList("layer-row", items, "No layers", "Add one from the catalog")
}
