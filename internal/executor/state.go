package executor

import (
	"errors"
	"fmt"
)

// State is a step of the apply state machine.
type State string

const (
	StateIdle            State = "Idle"
	StateValidating      State = "Validating"
	StateExecuting       State = "Executing"
	StateCommitted       State = "Committed"
	StateRejected        State = "Rejected"
	StatePartiallyFailed State = "PartiallyFailed"
)

var ErrInvalidTransition = errors.New("invalid executor state transition")

var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateExecuting, StateRejected},
	StateExecuting:  {StateCommitted, StatePartiallyFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected || s == StatePartiallyFailed
}

// machine tracks the current state and the path taken to reach it.
type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StateIdle, trail: []State{StateIdle}}
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.trail = append(m.trail, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}
