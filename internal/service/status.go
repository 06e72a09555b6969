package service

import (
	"sync"
)

// RenderStatusTracker receives per-layer, per-resource progress from the
// loaders and exposes it to the UI.
type RenderStatusTracker interface {
	AddResource(layerID string, res OnlineResource)
	// UpdateComplete marks a resource done; a non-nil err marks it failed.
	UpdateComplete(layerID string, res OnlineResource, err error)
	Skip(layerID string, res OnlineResource)
	ResetLayer(layerID string)
	// GetStatusSubject subscribes to status changes of one layer. The current
	// status is delivered first. A slow reader skips intermediate values but
	// always receives the latest one. Call the returned func to unsubscribe.
	GetStatusSubject(layerID string) (<-chan LayerStatus, func())
}

// ResourceState is the progress of one resource.
type ResourceState string

const (
	ResourcePending  ResourceState = "pending"
	ResourceComplete ResourceState = "complete"
	ResourceFailed   ResourceState = "failed"
	ResourceSkipped  ResourceState = "skipped"
)

// ResourceStatus is the progress entry of one resource.
type ResourceStatus struct {
	URL   string        `json:"url" doc:"Resource URL"`
	Name  string        `json:"name" doc:"Resource name"`
	Type  ResourceType  `json:"type" doc:"Resource type"`
	State ResourceState `json:"state" enum:"pending,complete,failed,skipped" doc:"Progress state"`
	Error string        `json:"error,omitempty" doc:"Failure message"`
}

// LayerStatus is the aggregated progress of a layer.
type LayerStatus struct {
	LayerID   string           `json:"layerId" doc:"Layer identifier"`
	Total     int              `json:"total" doc:"Resources registered"`
	Completed int              `json:"completed" doc:"Resources finished (including failed and skipped)"`
	Failed    int              `json:"failed" doc:"Resources that failed"`
	Skipped   int              `json:"skipped" doc:"Resources intentionally not loaded"`
	Done      bool             `json:"done" doc:"True when resources are registered and none is pending"`
	Resources []ResourceStatus `json:"resources" doc:"Per-resource progress"`
}

// HasError reports whether any resource failed.
func (s LayerStatus) HasError() bool { return s.Failed > 0 }

// StatusTracker is the in-process RenderStatusTracker.
type StatusTracker struct {
	mu      sync.Mutex
	layers  map[string][]*ResourceStatus
	subs    map[string]map[chan LayerStatus]struct{}
	updates *Bus[LayerStatus]
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		layers:  make(map[string][]*ResourceStatus),
		subs:    make(map[string]map[chan LayerStatus]struct{}),
		updates: NewBus[LayerStatus](),
	}
}

// Updates returns the bus carrying status changes of every layer.
func (t *StatusTracker) Updates() *Bus[LayerStatus] { return t.updates }

func (t *StatusTracker) AddResource(layerID string, res OnlineResource) {
	t.mutate(layerID, func(entries []*ResourceStatus) []*ResourceStatus {
		return append(entries, &ResourceStatus{URL: res.URL, Name: res.Name, Type: res.Type, State: ResourcePending})
	})
}

func (t *StatusTracker) UpdateComplete(layerID string, res OnlineResource, err error) {
	t.mutate(layerID, func(entries []*ResourceStatus) []*ResourceStatus {
		if e := findPending(entries, res); e != nil {
			e.State = ResourceComplete
			if err != nil {
				e.State = ResourceFailed
				e.Error = err.Error()
			}
		}
		return entries
	})
}

func (t *StatusTracker) Skip(layerID string, res OnlineResource) {
	t.mutate(layerID, func(entries []*ResourceStatus) []*ResourceStatus {
		if e := findPending(entries, res); e != nil {
			e.State = ResourceSkipped
			return entries
		}
		return append(entries, &ResourceStatus{URL: res.URL, Name: res.Name, Type: res.Type, State: ResourceSkipped})
	})
}

func (t *StatusTracker) ResetLayer(layerID string) {
	t.mutate(layerID, func([]*ResourceStatus) []*ResourceStatus { return nil })
}

func (t *StatusTracker) GetStatusSubject(layerID string) (<-chan LayerStatus, func()) {
	ch := make(chan LayerStatus, 1)
	t.mu.Lock()
	subs, ok := t.subs[layerID]
	if !ok {
		subs = make(map[chan LayerStatus]struct{})
		t.subs[layerID] = subs
	}
	subs[ch] = struct{}{}
	ch <- summarize(layerID, t.layers[layerID])
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(subs, ch)
			if len(subs) == 0 {
				delete(t.subs, layerID)
			}
			close(ch)
			t.mu.Unlock()
		})
	}
}

// Status returns the current status of a layer.
func (t *StatusTracker) Status(layerID string) LayerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return summarize(layerID, t.layers[layerID])
}

func (t *StatusTracker) mutate(layerID string, fn func([]*ResourceStatus) []*ResourceStatus) {
	t.mu.Lock()
	entries := fn(t.layers[layerID])
	if len(entries) == 0 {
		delete(t.layers, layerID)
	} else {
		t.layers[layerID] = entries
	}
	st := summarize(layerID, entries)
	for ch := range t.subs[layerID] {
		offerLatest(ch, st)
	}
	t.mu.Unlock()

	t.updates.Publish(st)
}

// offerLatest replaces whatever ch still holds with st. Senders hold the
// tracker lock, so the slot is free once drained.
func offerLatest(ch chan LayerStatus, st LayerStatus) {
	select {
	case <-ch:
	default:
	}
	ch <- st
}

func findPending(entries []*ResourceStatus, res OnlineResource) *ResourceStatus {
	for _, e := range entries {
		if e.State == ResourcePending && e.URL == res.URL && e.Name == res.Name && e.Type == res.Type {
			return e
		}
	}
	return nil
}

func summarize(layerID string, entries []*ResourceStatus) LayerStatus {
	st := LayerStatus{LayerID: layerID, Total: len(entries), Resources: make([]ResourceStatus, 0, len(entries))}
	for _, e := range entries {
		st.Resources = append(st.Resources, *e)
		switch e.State {
		case ResourceComplete:
			st.Completed++
		case ResourceFailed:
			st.Completed++
			st.Failed++
		case ResourceSkipped:
			st.Completed++
			st.Skipped++
		}
	}
	st.Done = st.Total > 0 && st.Completed == st.Total
	return st
}

var _ RenderStatusTracker = (*StatusTracker)(nil)
