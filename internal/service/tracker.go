package service

import "sync"

// Episode identifies one load of a layer. A remove followed by a re-add of
// the same id starts a new episode; results of the old one are discarded.
type Episode uint64

// LoadState is the bookkeeping of one load episode.
type LoadState struct {
	Episode            Episode
	ResourcesExpected  int
	ResourcesCompleted int
	Cancelled          bool
}

// AsyncLoadTracker counts resource completions per layer and carries the
// cancellation flag checked before every attach. Each loader owns one
// tracker; state is keyed by layer id.
type AsyncLoadTracker struct {
	mu     sync.Mutex
	states map[string]*LoadState
	next   Episode
}

// NewAsyncLoadTracker creates an empty tracker.
func NewAsyncLoadTracker() *AsyncLoadTracker {
	return &AsyncLoadTracker{states: make(map[string]*LoadState)}
}

// BeginLoad starts a new episode for layerID, clearing any prior
// cancellation and resetting the completion count.
func (t *AsyncLoadTracker) BeginLoad(layerID string, expected int) Episode {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.states[layerID] = &LoadState{Episode: t.next, ResourcesExpected: expected}
	return t.next
}

// RequestCancel marks the current episode of layerID as cancelled. Idempotent;
// a no-op when nothing is loading. Once it returns, Attach will not run for
// that episode.
func (t *AsyncLoadTracker) RequestCancel(layerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[layerID]; ok {
		st.Cancelled = true
	}
}

// IsCancelled reports whether results of episode ep must be discarded.
func (t *AsyncLoadTracker) IsCancelled(layerID string, ep Episode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelledLocked(layerID, ep)
}

func (t *AsyncLoadTracker) cancelledLocked(layerID string, ep Episode) bool {
	st, ok := t.states[layerID]
	return !ok || st.Episode != ep || st.Cancelled
}

// Attach runs fn only if episode ep is still live. The check and fn run under
// the tracker lock so a concurrent RequestCancel cannot interleave.
func (t *AsyncLoadTracker) Attach(layerID string, ep Episode, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelledLocked(layerID, ep) {
		return false
	}
	fn()
	return true
}

// OnResourceComplete counts one finished resource (success or failure) of
// episode ep. When the count reaches totalExpected the state is dropped and
// done is true; cancelled reports whether the episode had been cancelled.
// Completions of stale episodes are ignored.
func (t *AsyncLoadTracker) OnResourceComplete(layerID string, ep Episode, totalExpected int) (done, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[layerID]
	if !ok || st.Episode != ep {
		return false, true
	}
	if totalExpected > 0 {
		st.ResourcesExpected = totalExpected
	}
	if st.ResourcesCompleted < st.ResourcesExpected {
		st.ResourcesCompleted++
	}
	if st.ResourcesCompleted >= st.ResourcesExpected {
		delete(t.states, layerID)
		return true, st.Cancelled
	}
	return false, st.Cancelled
}

// Forget drops the state of layerID regardless of progress.
func (t *AsyncLoadTracker) Forget(layerID string) {
	t.mu.Lock()
	delete(t.states, layerID)
	t.mu.Unlock()
}

// State returns a copy of the tracked state of layerID.
func (t *AsyncLoadTracker) State(layerID string) (LoadState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[layerID]
	if !ok {
		return LoadState{}, false
	}
	return *st, true
}

// Loading reports whether layerID has an episode in flight.
func (t *AsyncLoadTracker) Loading(layerID string) bool {
	_, ok := t.State(layerID)
	return ok
}
