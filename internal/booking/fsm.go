// Package booking drives the step-by-step booking dialogue.
package booking

import (
	"errors"
	"fmt"
)

// State is the persisted step of a user's booking dialogue.
type State string

const (
	// StateIdle means no dialogue is in progress. It is never stored.
	StateIdle              State = ""
	StateSelectService     State = "select_service"
	StateSelectSpecialist  State = "select_specialist"
	StateSelectTime        State = "select_time"
	StateConfirm           State = "confirm"
	StateConfirmAdditional State = "confirm_additional"
)

var (
	ErrInvalidState      = errors.New("invalid dialogue state")
	ErrInvalidTransition = errors.New("invalid dialogue transition")
)

// ParseState validates a stored step.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateSelectService, StateSelectSpecialist, StateSelectTime, StateConfirm, StateConfirmAdditional:
		return st, nil
	}
	return StateIdle, fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// FSM holds the allowed step transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with the booking transitions. Steps move forward one at a
// time, may go back to any earlier step and may end (idle). Staying put is allowed.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:              {StateSelectService, StateSelectSpecialist, StateConfirmAdditional},
			StateConfirmAdditional: {StateSelectService, StateSelectSpecialist, StateIdle},
			StateSelectService:     {StateSelectSpecialist, StateIdle},
			StateSelectSpecialist:  {StateSelectTime, StateSelectService, StateIdle},
			StateSelectTime:        {StateConfirm, StateSelectSpecialist, StateSelectService, StateIdle},
			StateConfirm:           {StateSelectTime, StateSelectSpecialist, StateSelectService, StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	if from == to {
		_, ok := f.transitions[from]
		return ok
	}
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var StatePrompts = map[State]string{
	StateSelectService:     "Выберите услугу:",
	StateSelectSpecialist:  "Выберите специалиста:",
	StateSelectTime:        "Выберите время:",
	StateConfirm:           "Подтвердите запись:",
	StateConfirmAdditional: "У вас уже есть запись. Хотите записаться ещё на одну услугу?",
}
