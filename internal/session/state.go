// Package session orchestrates per-room voice sessions: each room runs a
// capture pipeline, sealed commands enter a global priority queue, and a
// concurrency cap bounds how many commands are processed at once.
package session

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle phase of one room session.
type State string

const (
	// StateIdle: no activity, waiting for voice.
	StateIdle State = "idle"

	// StateListening: an utterance is being captured.
	StateListening State = "listening"

	// StateProcessing: a command is being handled by the brain.
	StateProcessing State = "processing"

	// StateResponding: the reply is being spoken.
	StateResponding State = "responding"

	// StateError: the session failed and is cooling down before returning
	// to idle.
	StateError State = "error"
)

// DefaultErrorCooldown is how long a session stays in StateError before it
// may transition back to idle.
const DefaultErrorCooldown = time.Second

// legalTransitions lists the allowed state changes. Any state may enter
// StateError.
var legalTransitions = map[State][]State{
	StateIdle:       {StateListening},
	StateListening:  {StateProcessing, StateIdle},
	StateProcessing: {StateResponding, StateIdle},
	StateResponding: {StateIdle},
	StateError:      {StateIdle},
}

// Machine tracks one room's session state. Safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	erroredAt time.Time
	cooldown  time.Duration
}

// NewMachine creates a Machine in StateIdle.
func NewMachine(cooldown time.Duration) *Machine {
	if cooldown <= 0 {
		cooldown = DefaultErrorCooldown
	}
	return &Machine{state: StateIdle, cooldown: cooldown}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state. Any state may transition to
// StateError; leaving StateError is only allowed to StateIdle and only once
// the cooldown has elapsed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == StateError {
		m.state = StateError
		m.erroredAt = time.Now()
		return nil
	}

	if m.state == StateError {
		if to != StateIdle {
			return fmt.Errorf("session: illegal transition %s -> %s", m.state, to)
		}
		if since := time.Since(m.erroredAt); since < m.cooldown {
			return fmt.Errorf("session: error cooldown active for another %s", m.cooldown-since)
		}
		m.state = StateIdle
		return nil
	}

	for _, allowed := range legalTransitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("session: illegal transition %s -> %s", m.state, to)
}
