package session

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"halefclient/internal/telephony"
)

const (
	callIdle    = "idle"
	callDialing = "dialing"
	callInCall  = "incall"
	callEnded   = "ended"
)

const (
	callEventDial      = "dial"
	callEventEstablish = "establish"
	callEventEnd       = "end"
	callEventReset     = "reset"
)

// callMachine owns the single-active-call lifecycle. InCall can only be
// left through ended; idle is re-entered via reset so a new call can
// begin.
type callMachine struct {
	m *fsm.FSM
}

func newCallMachine() *callMachine {
	return &callMachine{
		m: fsm.NewFSM(
			callIdle,
			fsm.Events{
				{Name: callEventDial, Src: []string{callIdle}, Dst: callDialing},
				{Name: callEventEstablish, Src: []string{callDialing}, Dst: callInCall},
				{Name: callEventEnd, Src: []string{callDialing, callInCall}, Dst: callEnded},
				{Name: callEventReset, Src: []string{callEnded}, Dst: callIdle},
			},
			fsm.Callbacks{},
		),
	}
}

func (c *callMachine) state() CallState {
	switch c.m.Current() {
	case callDialing:
		return CallDialing
	case callInCall:
		return CallInCall
	case callEnded:
		return CallEnded
	default:
		return CallIdle
	}
}

func (c *callMachine) fire(event string) error {
	err := c.m.Event(context.Background(), event)
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return err
}

// callSession is the state of one outbound call, from dial to teardown.
// Exactly one may be live per controller.
type callSession struct {
	correlationID string
	destination   string
	address       string
	handle        telephony.Call
}
