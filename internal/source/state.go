package source

import (
	"fmt"
	"slices"
	"sync"
)

// State represents the lifecycle state of a source.
type State int

const (
	// StateIdle indicates the source has not started polling.
	StateIdle State = iota
	// StateRunning indicates the source is polling for snapshots.
	StateRunning
	// StateCancelled indicates the source stopped on request.
	StateCancelled
	// StateTerminated indicates the snapshot budget was exhausted.
	StateTerminated
	// StateFailed indicates a cycle failed permanently.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition leaves s.
func (s State) IsTerminal() bool {
	switch s {
	case StateCancelled, StateTerminated, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines allowed state transitions. Terminal states have none.
var validTransitions = map[State][]State{
	StateIdle:    {StateRunning, StateCancelled},
	StateRunning: {StateCancelled, StateTerminated, StateFailed},
}

// StateMachine manages source state transitions.
type StateMachine struct {
	mu        sync.RWMutex
	state     State
	listeners []StateChangeListener
}

// StateChangeListener is called when state changes.
type StateChangeListener func(from, to State)

// NewStateMachine creates a new state machine starting in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition attempts to transition to the target state.
// Returns an error if the transition is not valid.
func (sm *StateMachine) Transition(target State) error {
	sm.mu.Lock()

	if !slices.Contains(validTransitions[sm.state], target) {
		from := sm.state
		sm.mu.Unlock()
		return fmt.Errorf("invalid state transition from %s to %s", from, target)
	}

	from := sm.state
	sm.state = target

	listeners := make([]StateChangeListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener(from, target)
	}
	return nil
}

// AddListener adds a state change listener.
func (sm *StateMachine) AddListener(listener StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// IsRunning returns true if the source is polling.
func (sm *StateMachine) IsRunning() bool {
	return sm.State() == StateRunning
}

// IsTerminal returns true if the source has stopped for good.
func (sm *StateMachine) IsTerminal() bool {
	return sm.State().IsTerminal()
}
