// Package notify provides an edge-triggered signal: subscribing returns a
// handle that is armed immediately and resolved by the next pulse, never
// by a pulse that already happened. This is the shape the subscription
// engine's §4.6/§4.7 barriers need and event.Feed's Subscribe does not
// give directly, since a Feed delivers to channels already registered at
// send time but offers no single-shot "next edge" primitive; here we
// build that primitive the same way context.WithCancel builds its Done
// channel: close-and-replace under a mutex.
package notify

import "sync"

// Edge is a single-producer, many-waiter signal. Pulse wakes every
// waiter that subscribed strictly before the pulse.
type Edge struct {
	mu   sync.Mutex
	ch   chan struct{}
}

// NewEdge returns a ready-to-use Edge.
func NewEdge() *Edge {
	return &Edge{ch: make(chan struct{})}
}

// Subscribe arms a handle that resolves on the next call to Pulse made
// after Subscribe returns. It must be called before the state change
// whose resulting pulse the caller wants to observe, or the edge can be
// missed.
func (e *Edge) Subscribe() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Pulse wakes every handle currently subscribed and arms a fresh
// generation for subsequent subscribers.
func (e *Edge) Pulse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.ch)
	e.ch = make(chan struct{})
}
