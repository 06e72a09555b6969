package service

import "sync"

// Event represents a layer lifecycle mutation.
type Event struct {
	Resource string // e.g. "layers"
	Action   string // "added", "removed", "loaded", "updated", "moved"
	ID       string // layer ID
}

// Bus is a simple fan-out pub/sub. Publishing never blocks: a subscriber
// whose buffer is full misses the message.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[chan T]struct{}
}

// NewBus creates a new bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[chan T]struct{})}
}

// Publish sends v to all subscribers (non-blocking).
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives published values.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
