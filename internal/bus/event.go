package bus

import (
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

// Kind prefixes.
const (
	SessionPrefix = "session."
	ChatPrefix    = "chatkit."
)

// StatusChanged is published on every session lifecycle transition.
const StatusChanged = SessionPrefix + "status_changed"

// Event is a daemon event.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ChatKind is the bus kind carrying chat events of kind k.
func ChatKind(k model.EventKind) string {
	return ChatPrefix + string(k)
}

// FromChat wraps an applied chat event. The payload is the model.Event.
func FromChat(e model.Event) Event {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{Kind: ChatKind(e.Kind), Timestamp: ts, Payload: e}
}
