// Package status tracks the daemon's connectivity mode.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/usat-ai-lab/taklif/internal/bus"
)

// State is the daemon's view of the backend.
type State string

const (
	Booting State = "BOOTING"
	// Online: the last health probe or call reached the backend.
	Online State = "ONLINE"
	// Offline: submissions are buffered locally until a pass finds the backend.
	Offline State = "OFFLINE"
	Syncing State = "SYNCING"
	Error   State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting: {Online, Offline, Error},
	Online:  {Offline, Syncing, Error},
	Offline: {Online, Syncing, Error},
	Syncing: {Online, Offline, Error},
	Error:   {Booting},
}

// Machine tracks and enforces daemon state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
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
	m.since = time.Now()
	m.bus.Emit(bus.KindDaemonStatus, StatusChange{From: from, To: to})
	return nil
}

// SetReachable moves between Online and Offline after a health probe.
// It is a no-op when the state already matches.
func (m *Machine) SetReachable(reachable bool) error {
	to := Offline
	if reachable {
		to = Online
	}
	if m.Current() == to {
		return nil
	}
	return m.Transition(to)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
