package registrar

import (
	"errors"
	"testing"
)

func TestStateMachineTransitions(t *testing.T) {
	legal := [][2]State{
		{StateReceived, StateValidating},
		{StateValidating, StateCommitting},
		{StateValidating, StateRejected},
		{StateCommitting, StateCommitted},
		{StateCommitting, StateRolledBack},
	}
	for _, tr := range legal {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be legal", tr[0], tr[1])
		}
	}
	illegal := [][2]State{
		{StateReceived, StateCommitting},
		{StateRejected, StateCommitting},
		{StateCommitted, StateRolledBack},
		{StateValidating, StateCommitted},
	}
	for _, tr := range illegal {
		if CanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be illegal", tr[0], tr[1])
		}
	}
}

func TestExecutionRejectsIllegalTransition(t *testing.T) {
	var got []Transition
	exec := newExecution("reg-1", []Observer{func(tr Transition) { got = append(got, tr) }})
	err := exec.advance(StateCommitted, nil)
	var illegal IllegalTransitionError
	if !errors.As(err, &illegal) || illegal.From != StateReceived || illegal.To != StateCommitted {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if exec.current() != StateReceived {
		t.Fatalf("state moved on illegal transition")
	}
	cause := errors.New("boom")
	if err := exec.advance(StateValidating, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := exec.advance(StateRejected, cause); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !exec.current().Terminal() {
		t.Fatalf("rejected is terminal")
	}
	if len(got) != 3 || got[2].From != StateValidating || !errors.Is(got[2].Err, cause) || got[0].RegistrationID != "reg-1" {
		t.Fatalf("observed: %+v", got)
	}
}
