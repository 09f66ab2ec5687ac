package registrar

import (
	"fmt"
	"sync"

	"labcore/pkg/domain"
)

// State is a step of one batch execution.
type State string

// Execution states.
const (
	StateReceived   State = "RECEIVED"
	StateValidating State = "VALIDATING"
	StateCommitting State = "COMMITTING"
	StateRejected   State = "REJECTED"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
)

var transitions = map[State][]State{
	StateReceived:   {StateValidating},
	StateValidating: {StateCommitting, StateRejected},
	StateCommitting: {StateCommitted, StateRolledBack},
}

// Terminal reports whether no further transition is legal.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateCommitted || s == StateRolledBack
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is delivered to observers on every state change.
type Transition struct {
	RegistrationID domain.RegistrationID
	From           State
	To             State
	// Err is set on REJECTED and ROLLED_BACK.
	Err error
}

// Observer receives transitions synchronously on the executing goroutine.
type Observer func(Transition)

// IllegalTransitionError reports a transition the state machine forbids.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal registration transition %s -> %s", e.From, e.To)
}

type execution struct {
	mu        sync.Mutex
	id        domain.RegistrationID
	state     State
	observers []Observer
}

func newExecution(id domain.RegistrationID, observers []Observer) *execution {
	e := &execution{id: id, state: StateReceived, observers: observers}
	e.notify(Transition{RegistrationID: id, To: StateReceived})
	return e
}

func (e *execution) current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *execution) advance(to State, cause error) error {
	e.mu.Lock()
	from := e.state
	if !CanTransition(from, to) {
		e.mu.Unlock()
		return IllegalTransitionError{From: from, To: to}
	}
	e.state = to
	e.mu.Unlock()
	e.notify(Transition{RegistrationID: e.id, From: from, To: to, Err: cause})
	return nil
}

func (e *execution) notify(t Transition) {
	for _, obs := range e.observers {
		obs(t)
	}
}
