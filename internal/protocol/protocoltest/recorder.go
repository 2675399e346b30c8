// Package protocoltest provides an Emitter that records events for tests.
package protocoltest

import (
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-medic/internal/protocol"
)

// Recorder is a goroutine-safe protocol.Emitter that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *Recorder) Emit(evt protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

// OfType returns recorded events of type t, in order.
func (r *Recorder) OfType(t protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, evt := range r.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t protocol.EventType) int {
	return len(r.OfType(t))
}

// WaitFor polls until cond holds or timeout elapses, failing the test on
// timeout.
func (r *Recorder) WaitFor(t testing.TB, timeout time.Duration, cond func([]protocol.Event) bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond(r.Events()) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s; events: %+v", timeout, r.Events())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Finals returns the text of every final response_stream event.
func (r *Recorder) Finals() []string {
	var out []string
	for _, evt := range r.OfType(protocol.EventResponseStream) {
		if p, ok := evt.Payload.(protocol.ResponseStream); ok && p.Final {
			out = append(out, p.Text)
		}
	}
	return out
}
