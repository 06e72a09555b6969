package api

import (
	"context"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-portal/internal/catalog"
	"github.com/joeblew999/plat-portal/internal/humastar"
	"github.com/joeblew999/plat-portal/internal/service"
)

type RecordBody struct {
	service.CatalogRecord
}

type SearchInput struct {
	Q      string `query:"q" doc:"Text matched against title and abstract" example:"borehole"`
	BBox   string `query:"bbox" doc:"west,south,east,north in degrees" example:"110,-45,155,-10"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int    `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Page size"`
}

type RecordIDInput struct {
	ID string `path:"id" doc:"Record ID" example:"nvcl-boreholes"`
}

// RecordLayerRequest customizes the layer built from a record.
type RecordLayerRequest struct {
	Name    string               `json:"name,omitempty" doc:"Layer name, defaults to the record title"`
	Options *service.LoadOptions `json:"options,omitempty" doc:"Load options"`
}

// RegisterCatalog registers catalog search routes.
func (h *APIHandler) RegisterCatalog(api huma.API) {
	tags := huma.OperationTags("catalog")
	huma.Get(api, "/api/v1/catalog/records", h.SearchRecords, tags)
	huma.Get(api, "/api/v1/catalog/records/{id}", h.GetRecord, tags)
	huma.Post(api, "/api/v1/catalog/records/{id}/layer", h.RecordLayer, tags, accepted)
}

func (h *APIHandler) SearchRecords(ctx context.Context, input *SearchInput) (*struct {
	Body humastar.PageBody[service.CatalogRecord]
}, error) {
	if h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	q := catalog.Query{Text: input.Q, Offset: input.Offset, Limit: input.Limit}
	if input.BBox != "" {
		b, err := parseBBox(input.BBox)
		if err != nil {
			return nil, err
		}
		q.BBox = &b
	}
	page, err := h.svc.Catalog.Search(ctx, q)
	if err != nil {
		return nil, problem(err)
	}
	return &struct {
		Body humastar.PageBody[service.CatalogRecord]
	}{Body: humastar.PageBody[service.CatalogRecord]{
		Total: page.Total, Offset: input.Offset, Limit: input.Limit, Data: page.Records,
	}}, nil
}

func (h *APIHandler) GetRecord(ctx context.Context, input *RecordIDInput) (*struct{ Body RecordBody }, error) {
	if h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	rec, err := h.svc.Catalog.Get(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body RecordBody }{Body: RecordBody{rec}}, nil
}

func (h *APIHandler) RecordLayer(ctx context.Context, input *struct {
	RecordIDInput
	Body *RecordLayerRequest
}) (*LayerOutput, error) {
	if h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	rec, err := h.svc.Catalog.Get(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	var (
		name string
		opts service.LoadOptions
	)
	if input.Body != nil {
		name = input.Body.Name
		if input.Body.Options != nil {
			opts = *input.Body.Options
		}
	}
	def := catalog.LayerFromRecords(name, rec)
	def.ID = rec.ID
	return h.addLayer(ctx, service.NewLayer(def), opts)
}

func parseBBox(s string) (service.GeographicElement, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return service.GeographicElement{}, errBBox(s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return service.GeographicElement{}, errBBox(s)
		}
		v[i] = f
	}
	return service.GeographicElement{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}

func errBBox(s string) error {
	return huma.Error400BadRequest("bbox must be west,south,east,north: " + s)
}
