package gateway

import (
	"encoding/json"
	"sync"
)

// Event wraps one dispatch frame's payload for delivery to application
// handlers (spec §3.4 "Event object... cancelled flag"). Cancellation is
// stored on the event itself rather than a thread-local, since Go has no
// thread-locals and dispatch already runs handlers for one event
// sequentially (spec §4.7.1).
type Event struct {
	Type string
	Data json.RawMessage

	mu        sync.Mutex
	cancelled bool
}

func newEvent(typ string, data json.RawMessage) *Event {
	return &Event{Type: typ, Data: data}
}

// Decode unmarshals the event's raw JSON payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Cancel stops any remaining handlers registered for this event type from
// running (spec §3.4 "cancelled flag").
func (e *Event) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// Cancelled reports whether a prior handler called Cancel.
func (e *Event) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}
