package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatkit/internal/bus"
)

// State is a session lifecycle state.
type State string

const (
	Created      State = "CREATED"
	Connecting   State = "CONNECTING"
	Active       State = "ACTIVE"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Closed       State = "CLOSED"
)

var validTransitions = map[State][]State{
	Created:      {Connecting, Closed},
	Connecting:   {Active, Reconnecting, Degraded, Closed},
	Active:       {Reconnecting, Degraded, Closed},
	Reconnecting: {Active, Degraded, Closed},
	Degraded:     {Active, Reconnecting, Closed},
	Closed:       {},
}

// Machine tracks a session's lifecycle and rejects illegal transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	reason  string
	bus     *bus.Bus
	waiters []chan struct{}
}

// NewMachine creates a machine in Created. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Created, since: time.Now(), bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state, when it was entered and why.
func (m *Machine) Snapshot() (State, time.Time, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since, m.reason
}

// Transition moves to the given state. Moving to the current state is a no-op.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.since = time.Now()
	m.reason = reason
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.StatusChanged,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to, Reason: reason},
		})
	}
	return nil
}

// Changed returns a channel closed on the next transition.
func (m *Machine) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	if m.current == Closed {
		close(ch)
		return ch
	}
	m.waiters = append(m.waiters, ch)
	return ch
}

// StatusChange is the payload of bus.StatusChanged.
type StatusChange struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}
