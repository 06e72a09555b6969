package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-portal/internal/service"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "catalog.duckdb")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(id, title string, els ...service.GeographicElement) service.CatalogRecord {
	return service.CatalogRecord{
		ID:    id,
		Title: title,
		Resources: []service.OnlineResource{
			{URL: "https://example.org/wms", Name: id, Type: service.ResourceWMS},
		},
		GeographicElements: els,
	}
}

func box(w, s, e, n float64) service.GeographicElement {
	return service.GeographicElement{Type: "bbox", West: w, South: s, East: e, North: n}
}

func TestUpsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, rec("a", "Boreholes", box(110, -45, 155, -10))))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Boreholes", got.Title)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, service.ResourceWMS, got.Resources[0].Type)
	assert.Equal(t, 155.0, got.GeographicElements[0].East)

	require.NoError(t, s.Upsert(ctx, rec("a", "Boreholes v2")))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Boreholes v2", got.Title)
	assert.Empty(t, got.GeographicElements)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestUpsertRejectsMissingID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Upsert(context.Background(), rec("", "No id")))
}

func TestSearch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx,
		rec("nvcl", "NVCL Boreholes", box(110, -45, 155, -10)),
		rec("tas", "Tasmania geology", box(144, -44, 149, -40)),
		rec("nz", "NZ faults", box(166, -47, 179, -34)),
		rec("nogeo", "Borehole index"),
	))

	page, err := s.Search(ctx, Query{Text: "borehole"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "Borehole index", page.Records[0].Title)

	page, err = s.Search(ctx, Query{BBox: &service.GeographicElement{West: 145, South: -43, East: 146, North: -42}})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range page.Records {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"nvcl", "tas"}, ids)

	page, err = s.Search(ctx, Query{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Records, 2)
}

func TestSeedAndLayerFromRecords(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
records:
  - id: gravity
    title: Gravity anomaly
    onlineResources:
      - url: https://example.org/geoserver/wms
        name: ga:gravity
        type: wms
    geographicElements:
      - {west: 110, south: -45, east: 155, north: -10}
  - id: quakes
    title: Seismic stations
    onlineResources:
      - url: https://service.iris.edu
        name: AU
        type: IRIS
    geographicElements:
      - {west: 100, south: -50, east: 120, north: 0}
`), 0644))

	n, err := s.Seed(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	g, err := s.Get(context.Background(), "gravity")
	require.NoError(t, err)
	assert.Equal(t, service.ResourceWMS, g.Resources[0].Type)

	q, err := s.Get(context.Background(), "quakes")
	require.NoError(t, err)

	def := LayerFromRecords("", g, q)
	assert.Equal(t, "Gravity anomaly", def.Name)
	assert.NotEmpty(t, def.ID)
	require.NotNil(t, def.BoundingBox)
	assert.Equal(t, 100.0, def.BoundingBox.West)
	assert.Equal(t, 155.0, def.BoundingBox.East)
	assert.Equal(t, 0.0, def.BoundingBox.North)

	layer := service.NewLayer(def)
	kind, ok := service.Classify(layer)
	require.True(t, ok)
	assert.Equal(t, service.ResourceWMS, kind)
}
