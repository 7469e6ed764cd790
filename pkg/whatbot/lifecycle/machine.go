// Package lifecycle models the pairing and authentication flow of a
// messaging session as an explicit finite-state machine driven by channel
// events.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
)

// State is a lifecycle state.
type State string

const (
	StateStarting        State = "starting"
	StateAwaitingPairing State = "awaiting_pairing"
	StateAuthenticating  State = "authenticating"
	StateReady           State = "ready"
	StateAuthFailed      State = "auth_failed"
)

// transitions is the complete transition table. An event not listed for
// the current state is rejected and leaves the state unchanged.
// StateAuthFailed has no outgoing transitions: recovering needs a restart.
var transitions = map[State]map[channels.EventType]State{
	StateStarting: {
		channels.EventPairingCode:   StateAwaitingPairing,
		channels.EventAuthenticated: StateAuthenticating,
		channels.EventAuthFailure:   StateAuthFailed,
	},
	StateAwaitingPairing: {
		channels.EventPairingCode:   StateAwaitingPairing,
		channels.EventAuthenticated: StateAuthenticating,
		channels.EventAuthFailure:   StateAuthFailed,
	},
	StateAuthenticating: {
		channels.EventAuthenticated: StateAuthenticating,
		channels.EventReady:         StateReady,
		channels.EventAuthFailure:   StateAuthFailed,
	},
	StateReady: {
		channels.EventAuthenticated: StateReady,
		channels.EventReady:         StateReady,
		channels.EventMessage:       StateReady,
		channels.EventAuthFailure:   StateAuthFailed,
	},
	StateAuthFailed: {},
}

// Transition describes the outcome of firing an event.
type Transition struct {
	From  State
	To    State
	Event channels.EventType
}

// Entered reports whether the transition moved into a different state.
func (t Transition) Entered(s State) bool {
	return t.To == s && t.From != s
}

// ErrInvalidTransition is returned when an event is not allowed in the
// current state.
type ErrInvalidTransition struct {
	State State
	Event channels.EventType
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("lifecycle: event %q not allowed in state %q", e.Event, e.State)
}

// Machine holds the current lifecycle state.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in StateStarting.
func NewMachine() *Machine {
	return &Machine{state: StateStarting}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event to the machine.
func (m *Machine) Fire(event channels.EventType) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.state][event]
	if !ok {
		return Transition{From: m.state, To: m.state, Event: event},
			&ErrInvalidTransition{State: m.state, Event: event}
	}

	t := Transition{From: m.state, To: next, Event: event}
	m.state = next
	return t, nil
}
