package transport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"homechat/internal/bus"
)

// State represents the live-channel connection state.
type State string

const (
	Closed            State = "closed"
	Connecting        State = "connecting"
	Open              State = "open"
	PermanentlyFailed State = "permanently_failed"
)

// validTransitions defines allowed state transitions. PermanentlyFailed
// is terminal: once the retry budget is exhausted the channel never
// reconnects on its own and the poller becomes the sole source of truth.
var validTransitions = map[State][]State{
	Closed:            {Connecting, PermanentlyFailed},
	Connecting:        {Open, Closed},
	Open:              {Closed},
	PermanentlyFailed: {},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Closed state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Closed,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for connection state change events.
type StateChange struct {
	From State
	To   State
}
