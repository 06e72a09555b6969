package api

import (
	"github.com/joeblew999/plat-portal/internal/humastar"
	"github.com/joeblew999/plat-portal/internal/service"
)

var layerActions = []humastar.ActionDef{
	{Rel: "status", Pattern: "/api/v1/layers/%s/status", Method: "GET", Title: "Load progress"},
	{Rel: "split", Pattern: "/api/v1/layers/%s/split", Method: "PUT", Title: "Assign split pane"},
	{Rel: "delete", Pattern: "/api/v1/layers/%s", Method: "DELETE", Title: "Remove layer"},
}

var opacityAction = humastar.ActionDef{
	Rel: "opacity", Pattern: "/api/v1/layers/%s/opacity", Method: "PUT", Title: "Set opacity",
}

var recordActions = []humastar.ActionDef{
	{Rel: "add-layer", Pattern: "/api/v1/catalog/records/%s/layer", Method: "POST", Title: "Show on map"},
}

// Actions implements humastar.Actor. Opacity is only offered for layers
// whose loader supports it.
func (b LayerBody) Actions() []humastar.Action {
	defs := layerActions
	if b.Loader == service.ResourceWMS || b.Loader == service.LoaderCSW {
		defs = append([]humastar.ActionDef{opacityAction}, defs...)
	}
	return humastar.ActionsFor(b.ID, defs)
}

// Actions implements humastar.Actor.
func (b RecordBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, recordActions)
}
