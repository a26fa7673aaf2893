package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
)

// State is the daemon's view of connectivity to the remote message store.
type State string

const (
	Unknown State = "UNKNOWN"
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Unknown: {Online, Offline},
	Online:  {Offline},
	Offline: {Online},
}

// Machine tracks connectivity and enforces state transitions.
type Machine struct {
	mu           sync.RWMutex
	current      State
	forceOffline bool
	reachable    bool
	changedAt    time.Time
	bus          *bus.Bus
}

// NewMachine creates a new state machine starting in Unknown state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current:   Unknown,
		changedAt: time.Now(),
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the remote store is currently reachable.
func (m *Machine) Online() bool {
	return m.Current() == Online
}

// ChangedAt returns when the current state was entered.
func (m *Machine) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// Overridden reports whether the offline override is active.
func (m *Machine) Overridden() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forceOffline
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Observe records the result of a reachability check and transitions
// accordingly. While the offline override is set the machine stays Offline.
func (m *Machine) Observe(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = reachable
	m.settleLocked()
}

// SetOverride toggles the offline override. Clearing it restores the
// state implied by the last check.
func (m *Machine) SetOverride(force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceOffline = force
	m.settleLocked()
}

func (m *Machine) settleLocked() {
	target := Offline
	if m.reachable && !m.forceOffline {
		target = Online
	}
	if target != m.current {
		_ = m.transitionLocked(target)
	}
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.changedAt = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindNetworkChanged,
			Timestamp: m.changedAt,
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for network.status_changed events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
