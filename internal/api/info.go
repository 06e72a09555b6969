package api

import (
	"context"
)

type InfoBody struct {
	Name          string   `json:"name" doc:"Service name"`
	Version       string   `json:"version" doc:"Service version"`
	DataDir       string   `json:"dataDir" doc:"Data directory path"`
	Catalog       bool     `json:"catalog" doc:"Whether the catalog store is available"`
	SharedCache   bool     `json:"sharedCache" doc:"Whether the Redis fetch cache is enabled"`
	Loaders       []string `json:"loaders" doc:"Resource loaders in dispatch priority order"`
	ClickMargin   float64  `json:"clickMargin" doc:"Degrees added around every extent for click hit-testing"`
	DragThreshold float64  `json:"dragThreshold" doc:"Pointer travel in pixels from which a click is a pan"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	info := h.svc.Info
	info.Catalog = h.svc.Catalog != nil
	return &struct{ Body InfoBody }{Body: info}, nil
}
