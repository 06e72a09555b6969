package service

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestClassifyPriority(t *testing.T) {
	kml := OnlineResource{URL: "https://example.org/a.kml", Type: ResourceKML}
	kmz := OnlineResource{URL: "https://example.org/a.kmz", Type: ResourceKMZ}
	iris := OnlineResource{URL: "https://service.iris.edu", Name: "AU", Type: ResourceIRIS}
	vmf := OnlineResource{URL: "https://vmf.example.org", Type: ResourceVMF}
	wfs := OnlineResource{URL: "https://example.org/wfs", Type: ResourceWFS}

	tests := []struct {
		name  string
		layer *Layer
		want  ResourceType
		ok    bool
	}{
		{"wms wins over everything", layerOf("a", record("r", nil, kml, iris), record("s", nil, wms("https://example.org/wms", "x"))), ResourceWMS, true},
		{"iris before vmf", layerOf("b", record("r", nil, vmf, iris)), ResourceIRIS, true},
		{"vmf before kmz", layerOf("c", record("r", nil, kmz, vmf)), ResourceVMF, true},
		{"kmz before kml", layerOf("d", record("r", nil, kml, kmz)), ResourceKMZ, true},
		{"kml before geojson", layerOf("e", record("r", nil, geoJSON("https://example.org/a.json"), kml)), ResourceKML, true},
		{"geojson", layerOf("f", record("r", nil, geoJSON("https://example.org/a.json"))), ResourceGeoJSON, true},
		{"bbox fallback", layerOf("g", record("r", box(1, 2, 3, 4), wfs)), LoaderCSW, true},
		{"nothing", layerOf("h", record("r", nil, wfs)), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.layer)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("Classify=%q,%v, want %q,%v", got, ok, tt.want, tt.ok)
			}
			again, _ := Classify(tt.layer)
			if again != got {
				t.Fatalf("Classify not stable: %q then %q", got, again)
			}
		})
	}
}

func TestAddLayerNoSuitableLoader(t *testing.T) {
	h := newHarness()
	l := layerOf("wfs-only", record("r", nil, OnlineResource{URL: "https://example.org/wfs", Type: ResourceWFS}))
	err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{})
	if !errors.Is(err, ErrNoSuitableLoader) {
		t.Fatalf("err=%v, want ErrNoSuitableLoader", err)
	}
	if h.registry.Exists("wfs-only") || h.dispatcher.Loading("wfs-only") {
		t.Fatal("layer should be neither registered nor loading")
	}
}

func TestRemoveBeforeCompletionLeavesNoPrimitives(t *testing.T) {
	h := newHarness()
	releaseR1 := h.fetcher.gate("https://r1.example.org/wms", "<WMS_Capabilities/>", nil)
	releaseR2 := h.fetcher.gate("https://r2.example.org/wms", "", errors.New("connection reset"))

	l1 := layerOf("L1", record("rec", box(10, 10, 14, 14),
		wms("https://r1.example.org/wms", "r1"),
		wms("https://r2.example.org/wms", "r2"),
	))
	if err := h.dispatcher.AddLayer(context.Background(), l1, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.dispatcher.RemoveLayer(l1)

	releaseR2()
	releaseR1()
	h.settled(t, "L1")

	if n := h.renderer.count(); n != 0 {
		t.Fatalf("renderer primitives=%d, want 0", n)
	}
	if n := len(l1.Primitives()); n != 0 {
		t.Fatalf("layer primitives=%d, want 0", n)
	}
	if n := h.status.resetCount("L1"); n == 0 {
		t.Fatal("status tracker never saw resetLayer(L1)")
	}
	if h.registry.Exists("L1") {
		t.Fatal("L1 still registered")
	}
	wmsLoader, _ := h.dispatcher.LoaderOf(ResourceWMS)
	if _, ok := wmsLoader.Tracker().State("L1"); ok {
		t.Fatal("tracker state for L1 not cleared")
	}
	if st := h.status.Status("L1"); st.Total != 0 {
		t.Fatalf("status total=%d after reset, want 0", st.Total)
	}
}

func TestIdempotentReAdd(t *testing.T) {
	h := newHarness()
	h.fetcher.serve("https://example.org/a.json", pointCollection)

	first := layerOf("dup", record("r", nil, geoJSON("https://example.org/a.json")))
	if err := h.dispatcher.AddLayer(context.Background(), first, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.settled(t, "dup")
	if len(first.Primitives()) != 1 {
		t.Fatalf("first primitives=%d, want 1", len(first.Primitives()))
	}

	second := layerOf("dup", record("r", nil, geoJSON("https://example.org/a.json")))
	if err := h.dispatcher.AddLayer(context.Background(), second, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.settled(t, "dup")

	if n := h.registry.Len(); n != 1 {
		t.Fatalf("registry len=%d, want 1", n)
	}
	if got, _ := h.registry.Get("dup"); got != second {
		t.Fatal("registry does not hold the re-added layer")
	}
	if n := len(first.Primitives()); n != 0 {
		t.Fatalf("first layer still owns %d primitives", n)
	}
	if n := h.renderer.count(); n != 1 {
		t.Fatalf("renderer primitives=%d, want 1", n)
	}
}

func TestReAddWhileLoadingDiscardsOldEpisode(t *testing.T) {
	h := newHarness()
	releaseSlow := h.fetcher.gate("https://slow.example.org/a.json", pointCollection, nil)
	h.fetcher.serve("https://fast.example.org/a.json", pointCollection)

	old := layerOf("race", record("r", nil, geoJSON("https://slow.example.org/a.json")))
	if err := h.dispatcher.AddLayer(context.Background(), old, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	fresh := layerOf("race", record("r", nil, geoJSON("https://fast.example.org/a.json")))
	if err := h.dispatcher.AddLayer(context.Background(), fresh, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	waitFor(t, "fresh layer registered", func() bool { return h.registry.Exists("race") })

	releaseSlow()
	h.settled(t, "race")

	if n := len(old.Primitives()); n != 0 {
		t.Fatalf("old layer primitives=%d, want 0", n)
	}
	if n := h.renderer.count(); n != 1 {
		t.Fatalf("renderer primitives=%d, want 1", n)
	}
	if got, _ := h.registry.Get("race"); got != fresh {
		t.Fatal("registry does not hold the fresh layer")
	}
}

func TestReAddSameInstance(t *testing.T) {
	h := newHarness()
	h.fetcher.serve("https://example.org/a.json", pointCollection)
	l := layerOf("same", record("r", nil, geoJSON("https://example.org/a.json")))

	for i := 0; i < 2; i++ {
		if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
			t.Fatalf("AddLayer #%d: %v", i, err)
		}
		h.settled(t, "same")
		if !h.registry.Exists("same") {
			t.Fatalf("add #%d: layer not registered", i)
		}
	}
	if n := h.renderer.count(); n != 1 {
		t.Fatalf("renderer primitives=%d, want 1", n)
	}
}

func TestCompletionCounting(t *testing.T) {
	h := newHarness()
	urls := []string{
		"https://example.org/0.json",
		"https://example.org/1.json",
		"https://example.org/2.json",
		"https://example.org/3.json",
	}
	releases := []func(){
		h.fetcher.gate(urls[0], pointCollection, nil),
		h.fetcher.gate(urls[1], "", errors.New("404")),
		h.fetcher.gate(urls[2], pointCollection, nil),
		h.fetcher.gate(urls[3], "not json", nil),
	}
	var resources []OnlineResource
	for _, u := range urls {
		resources = append(resources, geoJSON(u))
	}
	l := layerOf("count", record("r", nil, resources...))
	if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}

	loader, _ := h.dispatcher.LoaderOf(ResourceGeoJSON)
	for i, idx := range []int{3, 0, 1} {
		releases[idx]()
		want := i + 1
		waitFor(t, "completion count", func() bool {
			st, ok := loader.Tracker().State("count")
			return ok && st.ResourcesCompleted == want
		})
	}
	releases[2]()
	h.settled(t, "count")

	if _, ok := loader.Tracker().State("count"); ok {
		t.Fatal("tracker state not cleared after N completions")
	}
	st := h.status.Status("count")
	if st.Total != 4 || st.Completed != 4 || st.Failed != 2 || !st.Done {
		t.Fatalf("status=%+v, want 4 total, 4 completed, 2 failed", st)
	}
	for _, r := range st.Resources {
		if r.State == ResourceFailed && r.Error == "" {
			t.Fatalf("failed resource %s has no error", r.URL)
		}
	}
	if n := len(l.Primitives()); n != 2 {
		t.Fatalf("primitives=%d, want 2", n)
	}
	if !h.registry.Exists("count") {
		t.Fatal("layer with successful resources not registered")
	}
}

func TestAllResourcesFailedNotRegistered(t *testing.T) {
	h := newHarness()
	h.fetcher.handle("https://example.org/down.json", func() ([]byte, error) { return nil, errors.New("503") })
	l := layerOf("down", record("r", nil, geoJSON("https://example.org/down.json")))
	if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.settled(t, "down")
	if h.registry.Exists("down") {
		t.Fatal("layer without primitives registered")
	}
	if st := h.status.Status("down"); !st.HasError() {
		t.Fatalf("status=%+v, want failure", st)
	}
}

func TestDegenerateBBoxRendersSquare(t *testing.T) {
	h := newHarness()
	l2 := layerOf("L2", record("r", box(10, 10, 10, 10)))
	if err := h.dispatcher.AddLayer(context.Background(), l2, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	// the bbox loader is synchronous
	if !h.registry.Exists("L2") {
		t.Fatal("L2 not registered after synchronous load")
	}

	var rects []PrimitiveSpec
	for _, s := range h.renderer.specs("L2") {
		if s.Kind == PrimitiveRectangle {
			rects = append(rects, s)
		}
	}
	if len(rects) != 1 {
		t.Fatalf("rectangles=%d, want 1", len(rects))
	}
	b := rects[0].Geometry.Bound()
	if w, hgt := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]; !near(w, DegenerateBoxSize) || !near(hgt, DegenerateBoxSize) {
		t.Fatalf("square size=%vx%v, want %v", w, hgt, DegenerateBoxSize)
	}
	if c := b.Center(); !near(c[0], 10) || !near(c[1], 10) {
		t.Fatalf("square centre=%v, want [10 10]", c)
	}
}

func TestBBoxRendersRectangleAndLabelPerElement(t *testing.T) {
	h := newHarness()
	rec := record("r", box(10, 10, 14, 14))
	rec.GeographicElements = append(rec.GeographicElements, *box(20, 20, 22, 22))
	l := layerOf("boxes", rec)
	if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	kinds := map[PrimitiveKind]int{}
	for _, s := range h.renderer.specs("boxes") {
		kinds[s.Kind]++
	}
	if kinds[PrimitiveRectangle] != 2 || kinds[PrimitiveLabel] != 2 {
		t.Fatalf("kinds=%v, want 2 rectangles and 2 labels", kinds)
	}
}

func TestFlyToOnInitialLoadOnly(t *testing.T) {
	h := newHarness()
	h.fetcher.serve("https://example.org/a.json", pointCollection)
	l := layerOf("fly", record("r", nil, geoJSON("https://example.org/a.json")))
	l.BoundingBox = box(110, -45, 155, -10)

	for i := 0; i < 2; i++ {
		if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
			t.Fatalf("AddLayer: %v", err)
		}
		h.settled(t, "fly")
	}
	if n := len(h.renderer.flights); n != 1 {
		t.Fatalf("flights=%d, want 1", n)
	}
	if l.InitialLoad() {
		t.Fatal("initialLoad still set")
	}

	no := false
	other := layerOf("nofly", record("r", nil, geoJSON("https://example.org/a.json")))
	other.BoundingBox = box(0, 0, 1, 1)
	if err := h.dispatcher.AddLayer(context.Background(), other, LoadOptions{FlyTo: &no}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.settled(t, "nofly")
	if n := len(h.renderer.flights); n != 1 {
		t.Fatalf("flights=%d, want 1 with fly-to disabled", n)
	}
}

func TestProviderFilterSkipsResources(t *testing.T) {
	h := newHarness()
	h.fetcher.serve("https://keep.example.org/a.json", pointCollection)
	l := layerOf("prov", record("r", nil,
		geoJSON("https://keep.example.org/a.json"),
		geoJSON("https://drop.example.org/a.json"),
	))
	opts := LoadOptions{Providers: []string{"keep.example.org"}}
	if err := h.dispatcher.AddLayer(context.Background(), l, opts); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.settled(t, "prov")
	st := h.status.Status("prov")
	if st.Skipped != 1 || st.Completed != 2 || st.Failed != 0 {
		t.Fatalf("status=%+v, want one skipped, one loaded", st)
	}
	for _, call := range h.fetcher.calls {
		if call == "https://drop.example.org/a.json" {
			t.Fatal("skipped resource was fetched")
		}
	}
}

// snapshotStatus records the layer status after every tracker call.
type snapshotStatus struct {
	*StatusTracker
	mu   sync.Mutex
	seen []LayerStatus
}

func (s *snapshotStatus) snap(layerID string) {
	st := s.Status(layerID)
	s.mu.Lock()
	s.seen = append(s.seen, st)
	s.mu.Unlock()
}

func (s *snapshotStatus) AddResource(layerID string, res OnlineResource) {
	s.StatusTracker.AddResource(layerID, res)
	s.snap(layerID)
}

func (s *snapshotStatus) Skip(layerID string, res OnlineResource) {
	s.StatusTracker.Skip(layerID, res)
	s.snap(layerID)
}

func (s *snapshotStatus) UpdateComplete(layerID string, res OnlineResource, err error) {
	s.StatusTracker.UpdateComplete(layerID, res, err)
	s.snap(layerID)
}

func TestSkippedResourcesNeverReportDoneEarly(t *testing.T) {
	status := &snapshotStatus{StatusTracker: NewStatusTracker()}
	fetcher := newFakeFetcher()
	release := fetcher.gate("https://keep.example.org/a.json", pointCollection, nil)
	defer release()
	d := NewDispatcher(NewLayerRegistry(), LoaderDeps{
		Renderer: newFakeRenderer(),
		Status:   status,
		Fetcher:  fetcher,
	})

	l := layerOf("early", record("r", nil,
		geoJSON("https://drop.example.org/a.json"),
		geoJSON("https://keep.example.org/a.json"),
	))
	if err := d.AddLayer(context.Background(), l, LoadOptions{Providers: []string{"keep.example.org"}}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	if st := status.Status("early"); st.Done || st.Total != 2 {
		t.Fatalf("while loading=%+v, want two entries, not done", st)
	}
	release()
	waitFor(t, "load to finish", func() bool { return status.Status("early").Done })

	status.mu.Lock()
	defer status.mu.Unlock()
	for i, st := range status.seen {
		if st.Done && i != len(status.seen)-1 {
			t.Fatalf("snapshot %d of %d reported done: %+v", i, len(status.seen), st)
		}
	}
}

func TestEmptyStatusIsNotDone(t *testing.T) {
	st := NewStatusTracker()
	if got := st.Status("pending"); got.Done {
		t.Fatalf("status=%+v, want not done without entries", got)
	}
}

func TestConcurrentAddsOfOneID(t *testing.T) {
	for i := 0; i < 25; i++ {
		h := newHarness()
		h.fetcher.serve("https://example.org/a.json", pointCollection)
		rect := layerOf("dup", record("r", box(1, 1, 2, 2)))
		points := layerOf("dup", record("r", nil, geoJSON("https://example.org/a.json")))

		var wg sync.WaitGroup
		for _, l := range []*Layer{rect, points} {
			wg.Add(1)
			go func(l *Layer) {
				defer wg.Done()
				if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
					t.Errorf("AddLayer: %v", err)
				}
			}(l)
		}
		wg.Wait()
		h.settled(t, "dup")

		got, ok := h.registry.Get("dup")
		if !ok {
			t.Fatalf("run %d: layer not registered", i)
		}
		if n := h.registry.Len(); n != 1 {
			t.Fatalf("run %d: registry holds %d layers, want 1", i, n)
		}
		if want, have := len(got.Primitives()), h.renderer.count(); want != have {
			t.Fatalf("run %d: renderer holds %d primitives, registered layer owns %d", i, have, want)
		}
	}
}

func TestAddLayerStripsIntersectsFilter(t *testing.T) {
	h := newHarness()
	h.fetcher.serve("https://example.org/wms", "<WMS_Capabilities/>")
	res := wms("https://example.org/wms", "gsmlp:BoreholeView")
	res.Style = "depth > 10 AND INTERSECTS(shape, POLYGON((0 0, 1 0, 1 1, 0 0)))"
	l := layerOf("filtered", record("r", nil, res))
	if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.settled(t, "filtered")
	specs := h.renderer.specs("filtered")
	if len(specs) != 1 {
		t.Fatalf("specs=%d, want 1", len(specs))
	}
	if got := specs[0].Imagery.Params["cql_filter"]; got != "depth > 10" {
		t.Fatalf("cql_filter=%q, want %q", got, "depth > 10")
	}
}

func TestRemoveLayerByIDUnknownResetsStatus(t *testing.T) {
	h := newHarness()
	err := h.dispatcher.RemoveLayerByID("ghost")
	if !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("err=%v, want ErrLayerNotFound", err)
	}
	if h.status.resetCount("ghost") != 1 {
		t.Fatal("status not reset for unknown id")
	}
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness()
	ch := h.dispatcher.Events().Subscribe()
	defer h.dispatcher.Events().Unsubscribe(ch)

	l := layerOf("ev", record("r", box(1, 1, 2, 2)))
	if err := h.dispatcher.AddLayer(context.Background(), l, LoadOptions{}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	h.dispatcher.RemoveLayer(l)

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, (<-ch).Action)
	}
	want := []string{"added", "loaded", "removed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v, want %v", got, want)
		}
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
