package session

import (
	"testing"
	"time"
)

func TestMachineLegalTransitions(t *testing.T) {
	t.Parallel()

	m := NewMachine(0)
	steps := []State{StateListening, StateProcessing, StateResponding, StateIdle}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("State = %s, want idle", got)
	}
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	m := NewMachine(0)
	if err := m.Transition(StateResponding); err == nil {
		t.Fatal("idle -> responding was allowed")
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("State = %s after rejected transition, want idle", got)
	}
}

func TestMachineErrorCooldown(t *testing.T) {
	t.Parallel()

	m := NewMachine(50 * time.Millisecond)
	if err := m.Transition(StateError); err != nil {
		t.Fatalf("Transition(error): %v", err)
	}

	if err := m.Transition(StateIdle); err == nil {
		t.Fatal("left error state before cooldown elapsed")
	}
	if err := m.Transition(StateListening); err == nil {
		t.Fatal("error -> listening was allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if err := m.Transition(StateIdle); err != nil {
		t.Fatalf("Transition(idle) after cooldown: %v", err)
	}
}

func TestMachineAnyStateMayError(t *testing.T) {
	t.Parallel()

	m := NewMachine(0)
	if err := m.Transition(StateListening); err != nil {
		t.Fatalf("Transition(listening): %v", err)
	}
	if err := m.Transition(StateError); err != nil {
		t.Fatalf("Transition(error) from listening: %v", err)
	}
	if got := m.State(); got != StateError {
		t.Fatalf("State = %s, want error", got)
	}
}
