package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/bus"
)

// State represents the replica session state.
type State string

const (
	SignedOut State = "SIGNED_OUT"
	Idle      State = "IDLE"
	Syncing   State = "SYNCING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	SignedOut: {Idle},
	Idle:      {Syncing, SignedOut},
	Syncing:   {Idle},
}

// Machine tracks the session state and gates sync cycles so at most one is
// in flight.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting signed out.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: SignedOut,
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
	return m.transitionLocked(to)
}

// Begin moves IDLE to SYNCING. It fails with a BUSY error while a cycle is
// already running and a SESSION error when signed out. Requests are never
// queued.
func (m *Machine) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current {
	case Syncing:
		return apperr.Busy()
	case SignedOut:
		return apperr.Session("sync")
	}
	return m.transitionLocked(Syncing)
}

// End returns a running cycle to IDLE. It is a no-op in any other state.
func (m *Machine) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Syncing {
		_ = m.transitionLocked(Idle)
	}
}

// SignIn moves SIGNED_OUT to IDLE. Signing in twice is a no-op.
func (m *Machine) SignIn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != SignedOut {
		return nil
	}
	return m.transitionLocked(Idle)
}

// SignOut moves IDLE to SIGNED_OUT. It fails with BUSY while syncing.
func (m *Machine) SignOut() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.current {
	case SignedOut:
		return nil
	case Syncing:
		return apperr.Busy()
	}
	return m.transitionLocked(SignedOut)
}

// IsSyncing reports whether a cycle is in flight.
func (m *Machine) IsSyncing() bool {
	return m.Current() == Syncing
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.SessionStatusChanged, StatusChange{
		From: from,
		To:   to,
	})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
