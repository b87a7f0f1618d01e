//go:build integration

package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyang/domain-server/internal/domain/event"
	porteventbus "github.com/alanyang/domain-server/internal/port/eventbus"
)

// EventRecorder subscribes to every channel of a bus and keeps what arrives.
// It is safe for concurrent use.
type EventRecorder struct {
	mu     sync.Mutex
	Events []event.Event
}

// Record subscribes r to bus for the life of the test.
func Record(t *testing.T, bus porteventbus.EventBus) *EventRecorder {
	t.Helper()
	r := &EventRecorder{}
	for _, ch := range event.Channels {
		sub, err := bus.Subscribe(context.Background(), ch, func(_ context.Context, e event.Event) {
			r.mu.Lock()
			r.Events = append(r.Events, e)
			r.mu.Unlock()
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", ch, err)
		}
		t.Cleanup(sub.Unsubscribe)
	}
	return r
}

// Types returns the recorded event types in arrival order.
func (r *EventRecorder) Types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}

// WaitFor blocks until an event of type t has been recorded or the timeout
// elapses.
func (r *EventRecorder) WaitFor(t event.Type, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, got := range r.Types() {
			if got == t {
				return true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Reset clears all recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.Events = nil
	r.mu.Unlock()
}
