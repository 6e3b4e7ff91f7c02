package session

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

const (
	regUnregistered = "unregistered"
	regRegistering  = "registering"
	regRegistered   = "registered"
	regFailed       = "failed"
)

const (
	regEventRegister   = "register"
	regEventRegistered = "registered_ok"
	regEventFail       = "fail"
	regEventUnregister = "unregister"
)

// registrationMachine owns the registrar-binding lifecycle. Terminal
// outcomes are only reachable from registering; unregister is valid
// from every state.
type registrationMachine struct {
	m *fsm.FSM
}

func newRegistrationMachine() *registrationMachine {
	return &registrationMachine{
		m: fsm.NewFSM(
			regUnregistered,
			fsm.Events{
				{Name: regEventRegister, Src: []string{regUnregistered, regFailed, regRegistered, regRegistering}, Dst: regRegistering},
				{Name: regEventRegistered, Src: []string{regRegistering}, Dst: regRegistered},
				{Name: regEventFail, Src: []string{regRegistering}, Dst: regFailed},
				{Name: regEventUnregister, Src: []string{regUnregistered, regRegistering, regRegistered, regFailed}, Dst: regUnregistered},
			},
			fsm.Callbacks{},
		),
	}
}

func (r *registrationMachine) state() RegistrationState {
	switch r.m.Current() {
	case regRegistering:
		return RegistrationRegistering
	case regRegistered:
		return RegistrationRegistered
	case regFailed:
		return RegistrationFailed
	default:
		return RegistrationUnregistered
	}
}

// fire attempts a transition. Staying in the same state is not an
// error; an event invalid for the current state is.
func (r *registrationMachine) fire(event string) error {
	err := r.m.Event(context.Background(), event)
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return err
}
