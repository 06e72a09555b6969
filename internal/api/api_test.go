package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-portal/internal/catalog"
	"github.com/joeblew999/plat-portal/internal/humastar"
	"github.com/joeblew999/plat-portal/internal/scene"
	"github.com/joeblew999/plat-portal/internal/service"
)

type testEnv struct {
	api    humatest.TestAPI
	engine *service.Engine
	scene  *scene.Scene
}

func newTestEnv(t *testing.T, store *catalog.Store) *testEnv {
	t.Helper()
	sc := scene.New()
	engine := service.NewEngine(service.EngineOptions{
		Renderer: sc,
		Session:  service.NewSession(t.TempDir()),
	})

	links := humastar.NewLinkSet()
	cfg := huma.DefaultConfig("test", "1.0.0")
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	cfg.Transformers = append(cfg.Transformers, links.Transformer())
	hapi := humachi.New(chi.NewMux(), cfg)
	RegisterRoutes(hapi, &Services{Engine: engine, Catalog: store, Scene: sc, Info: InfoBody{Name: "plat-portal", Version: "test"}})
	links.Discover(hapi)

	return &testEnv{api: humatest.Wrap(t, hapi), engine: engine, scene: sc}
}

func bboxLayer(id string, w, s, e, n float64) map[string]any {
	return map[string]any{
		"id":   id,
		"name": "Layer " + id,
		"boundingBox": map[string]any{
			"westBoundLongitude": w, "southBoundLatitude": s,
			"eastBoundLongitude": e, "northBoundLatitude": n,
		},
		"cswRecords": []map[string]any{{
			"id":              id + "-rec",
			"title":           "Record " + id,
			"onlineResources": []map[string]any{},
			"geographicElements": []map[string]any{{
				"westBoundLongitude": w, "southBoundLatitude": s,
				"eastBoundLongitude": e, "northBoundLatitude": n,
			}},
		}},
	}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func hasLink(resp http.Header, rel string) bool {
	for _, l := range resp.Values("Link") {
		if strings.Contains(l, `rel="`+rel+`"`) {
			return true
		}
	}
	return false
}

func TestLayerLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.api.Post("/api/v1/layers", bboxLayer("a", 10, 10, 20, 20))
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	body := decode[LayerBody](t, resp.Body.Bytes())
	assert.Equal(t, service.LoaderCSW, body.Loader)
	assert.Equal(t, 2, body.Primitives, "rectangle and label")
	assert.True(t, hasLink(resp.Header(), "opacity"))

	resp = env.api.Get("/api/v1/layers")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]service.LayerView](t, resp.Body.Bytes()), 1)

	resp = env.api.Get("/api/v1/layers/a/status")
	require.Equal(t, http.StatusOK, resp.Code)
	st := decode[service.LayerStatus](t, resp.Body.Bytes())
	assert.Equal(t, 1, st.Total)
	assert.True(t, st.Done)

	resp = env.api.Put("/api/v1/layers/a/opacity", map[string]any{"opacity": 1.7})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 1.0, decode[LayerBody](t, resp.Body.Bytes()).Opacity)

	resp = env.api.Put("/api/v1/layers/a/split", map[string]any{"splitDirection": "LEFT"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, service.SplitLeft, decode[LayerBody](t, resp.Body.Bytes()).SplitDirection)

	resp = env.api.Put("/api/v1/layers/a/split", map[string]any{"splitDirection": "UP"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = env.api.Delete("/api/v1/layers/a")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Zero(t, env.scene.Len())

	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/layers/a").Code)
	assert.Equal(t, http.StatusNotFound, env.api.Delete("/api/v1/layers/a").Code)
	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/layers/a/status").Code)
}

func TestAddLayerWithoutLoader(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.api.Post("/api/v1/layers", map[string]any{
		"name": "Website only",
		"cswRecords": []map[string]any{{
			"id": "r", "title": "r",
			"onlineResources": []map[string]any{{"url": "https://example.org", "name": "home", "type": "WWW"}},
		}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "no suitable loader")
	assert.Empty(t, env.engine.Layers())
}

func TestClick(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusAccepted, env.api.Post("/api/v1/layers", bboxLayer("a", 10, 10, 20, 20)).Code)

	inside := env.scene.WorldToScreen(orb.Point{15, 15})
	resp := env.api.Post("/api/v1/map/click", map[string]any{"down": inside, "up": inside})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	res := decode[service.ClickResult](t, resp.Body.Bytes())
	require.Len(t, res.ClickedLayers, 1)
	assert.Equal(t, "a", res.ClickedLayers[0].LayerID)
	assert.InDelta(t, 15, res.WorldCoordinate[0], 1e-9)

	up := service.Pixel{X: inside.X + 3, Y: inside.Y}
	resp = env.api.Post("/api/v1/map/click", map[string]any{"down": inside, "up": up})
	assert.Equal(t, http.StatusNoContent, resp.Code, "drag")

	outside := env.scene.WorldToScreen(orb.Point{-60, -30})
	resp = env.api.Post("/api/v1/map/click", map[string]any{"down": outside, "up": outside})
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func TestMarkerIsNotAttributed(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.api.Post("/api/v1/map/marker", map[string]any{"lon": 50, "lat": 50})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	px := env.scene.WorldToScreen(orb.Point{50, 50})
	resp = env.api.Post("/api/v1/map/click", map[string]any{"down": px, "up": px})
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func TestMoveLayer(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusAccepted, env.api.Post("/api/v1/layers", bboxLayer(id, 0, 0, 1, 1)).Code)
	}

	resp := env.api.Post("/api/v1/layers/move", map[string]any{"from": 0, "to": 2})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var ids []string
	for _, l := range decode[[]service.LayerView](t, resp.Body.Bytes()) {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)

	resp = env.api.Post("/api/v1/layers/move", map[string]any{"from": 0, "to": 7})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSceneAndFeatures(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusAccepted, env.api.Post("/api/v1/layers", bboxLayer("a", 0, 0, 1, 1)).Code)

	resp := env.api.Get("/api/v1/map/scene")
	require.Equal(t, http.StatusOK, resp.Code)
	snap := decode[scene.Snapshot](t, resp.Body.Bytes())
	assert.Equal(t, 2, snap.Primitives)
	require.Len(t, snap.Flights, 1, "first load flies to the layer")

	resp = env.api.Get("/api/v1/layers/a/features")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/geo+json", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "FeatureCollection")
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, hasLink(resp.Header(), "layers"))
	assert.True(t, hasLink(resp.Header(), "service-desc"))

	resp = env.api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp.Body.Bytes())
	assert.False(t, info.Catalog)
}

func TestCatalogRoutes(t *testing.T) {
	store, err := catalog.Open(context.Background(), catalog.Config{Path: filepath.Join(t.TempDir(), "c.duckdb")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Upsert(context.Background(),
		service.CatalogRecord{ID: "g1", Title: "Gravity north", GeographicElements: []service.GeographicElement{{West: 130, South: -20, East: 140, North: -10}}},
		service.CatalogRecord{ID: "g2", Title: "Gravity south", GeographicElements: []service.GeographicElement{{West: 130, South: -40, East: 140, North: -30}}},
		service.CatalogRecord{ID: "m1", Title: "Magnetics"},
	))
	env := newTestEnv(t, store)

	resp := env.api.Get("/api/v1/catalog/records?q=gravity&limit=1")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	page := decode[humastar.PageBody[service.CatalogRecord]](t, resp.Body.Bytes())
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Data, 1)
	assert.True(t, hasLink(resp.Header(), "next"))

	resp = env.api.Get("/api/v1/catalog/records?bbox=135,-35,136,-34")
	require.Equal(t, http.StatusOK, resp.Code)
	page = decode[humastar.PageBody[service.CatalogRecord]](t, resp.Body.Bytes())
	require.Len(t, page.Data, 1)
	assert.Equal(t, "g2", page.Data[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.api.Get("/api/v1/catalog/records?bbox=1,2,3").Code)

	resp = env.api.Get("/api/v1/catalog/records/g1")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, hasLink(resp.Header(), "add-layer"))
	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/catalog/records/nope").Code)

	resp = env.api.Post("/api/v1/catalog/records/g1/layer", map[string]any{"name": "Gravity"})
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	body := decode[LayerBody](t, resp.Body.Bytes())
	assert.Equal(t, "g1", body.ID)
	assert.Equal(t, "Gravity", body.Name)
	require.NotNil(t, body.BoundingBox)

	resp = env.api.Post("/api/v1/catalog/records/m1/layer")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code, "no resources and no extent")
}

func TestCatalogUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, env.api.Get("/api/v1/catalog/records").Code)
}

func TestLayerTiles(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusAccepted, env.api.Post("/api/v1/layers", bboxLayer("a", 130, -30, 140, -20)).Code)

	resp := env.api.Get("/api/v1/layers/a/tiles/0/0/0")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "application/vnd.mapbox-vector-tile", resp.Header().Get("Content-Type"))
	assert.Equal(t, "gzip", resp.Header().Get("Content-Encoding"))
	layers, err := mvt.UnmarshalGzipped(resp.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Len(t, layers[0].Features, 1, "rectangle only, labels are not tiled")

	assert.Equal(t, http.StatusNoContent, env.api.Get("/api/v1/layers/a/tiles/3/0/0").Code)
	assert.Equal(t, http.StatusBadRequest, env.api.Get("/api/v1/layers/a/tiles/1/2/0").Code)
	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/layers/nope/tiles/0/0/0").Code)
}
