// Package session coordinates a SIP voice session with its auxiliary
// feedback channel: one registrar binding, at most one active call, and
// an event channel keyed by the call's correlation id.
package session

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"halefclient/internal/metrics"
	"halefclient/internal/telephony"
)

// SetupTimeout bounds call setup; the telephony stack reports the call
// ended if nobody answers within it.
const SetupTimeout = 30 * time.Second

var (
	// ErrNotRegistered is returned by Call before a successful registration.
	ErrNotRegistered = errors.New("not registered")
	// ErrAlreadyInCall is returned by Call while a call session is live.
	ErrAlreadyInCall = errors.New("a call is already active")
)

// Callbacks is the caller-facing notification surface. Implementations
// are invoked from the controller's event loop, never concurrently, and
// may call back into the controller.
type Callbacks interface {
	// RegisterStatus reports Registering, Registered or Failed. Code
	// and reason are only meaningful for Failed.
	RegisterStatus(state RegistrationState, code int, reason string)
	CallStatus(state CallState)
	FeedbackMessage(message string)
	DebugMessage(message string)
}

// EventChannel is the feedback-channel surface the controller drives.
type EventChannel interface {
	Open(key string, onMessage, onDebug func(text string))
	Close()
}

// AudioOutput applies the in-call audio policy.
type AudioOutput interface {
	SetLoudspeaker(enabled bool) error
	// SetVolume takes a level in [0,1]; 1 is the device maximum for the
	// voice-call stream.
	SetVolume(level float64) error
	SetMuted(muted bool) error
}

// internal events consumed by the run loop

type regRegisteringEvent struct{}

type regRegisteredEvent struct{}

type regFailedEvent struct {
	code   int
	reason string
}

type callEstablishedEvent struct{}

type callEndedEvent struct{}

type feedbackMessageEvent struct{ text string }

type debugMessageEvent struct{ text string }

// Controller is the session facade. Public operations never block on
// the network: they mutate local state synchronously and let the
// telephony and channel backends report completion through the internal
// event queue, where transitions are applied and callbacks delivered
// one at a time.
type Controller struct {
	capability telephony.Capability
	channel    EventChannel
	audio      AudioOutput
	callbacks  Callbacks
	log        *logrus.Entry

	mu       sync.Mutex
	identity telephony.Identity
	reg      *registrationMachine
	call     *callMachine
	session  *callSession

	events    chan interface{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewController wires the collaborators and starts the event loop. All
// four callback methods are delivered through cb; there is no other
// notification path.
func NewController(capability telephony.Capability, channel EventChannel, audio AudioOutput, cb Callbacks, log *logrus.Entry) *Controller {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logrus.NewEntry(logger)
	}
	c := &Controller{
		capability: capability,
		channel:    channel,
		audio:      audio,
		callbacks:  cb,
		log:        log,
		reg:        newRegistrationMachine(),
		call:       newCallMachine(),
		events:     make(chan interface{}, 16),
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Register binds identity to its registrar. The transition to
// Registering happens before any network round trip; Registered or
// Failed arrives later via RegisterStatus. Re-registering with the same
// identity while bound is a no-op; a new identity tears the old binding
// down first. Malformed identities surface as a registration failure,
// not an error return.
func (c *Controller) Register(identity telephony.Identity) {
	if err := identity.Validate(); err != nil {
		c.mu.Lock()
		state := c.reg.state()
		bound := state == RegistrationRegistering || state == RegistrationRegistered
		previous := c.identity
		_ = c.reg.fire(regEventRegister)
		c.mu.Unlock()
		// A rejected identity still supersedes the previous binding;
		// the capability must not keep refreshing it while the
		// controller reports Failed.
		if bound {
			if err := c.capability.Close(previous); err != nil {
				c.log.Warnf("closing previous binding: %v", err)
			}
		}
		c.emit(regRegisteringEvent{})
		c.emit(regFailedEvent{reason: err.Error()})
		return
	}

	c.mu.Lock()
	state := c.reg.state()
	bound := state == RegistrationRegistering || state == RegistrationRegistered
	if bound && identity == c.identity {
		c.mu.Unlock()
		c.log.Debugf("register: already %s as %s", state, identity.URI())
		return
	}
	previous := c.identity
	c.identity = identity
	if err := c.reg.fire(regEventRegister); err != nil {
		c.mu.Unlock()
		c.log.Warnf("register: %v", err)
		return
	}
	c.mu.Unlock()

	if bound {
		if err := c.capability.Close(previous); err != nil {
			c.log.Warnf("closing previous binding: %v", err)
		}
	}
	if err := c.capability.Open(identity, c); err != nil {
		c.emit(regRegisteringEvent{})
		c.emit(regFailedEvent{reason: err.Error()})
	}
}

// Unregister drops the registrar binding unconditionally. An active
// call is hung up and its channel closed first. Errors from the
// telephony stack are logged, never propagated: once unregister is
// requested the local state must not be left registered.
func (c *Controller) Unregister() {
	c.mu.Lock()
	identity := c.identity
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		if sess.handle != nil {
			if err := sess.handle.End(); err != nil {
				c.log.Warnf("ending call during unregister: %v", err)
			}
		}
		c.emit(callEndedEvent{})
	}

	c.mu.Lock()
	_ = c.reg.fire(regEventUnregister)
	c.mu.Unlock()

	if err := c.capability.Close(identity); err != nil {
		c.log.Warnf("unregister: %v", err)
	}
}

// Call places an outbound call to destination. It returns
// ErrNotRegistered before a successful registration and
// ErrAlreadyInCall while a call session is live; in both cases nothing
// changes. Otherwise the feedback channel is opened under a fresh
// correlation id, the call request is issued with SetupTimeout, and the
// method returns before the callee answers.
func (c *Controller) Call(destination string) error {
	c.mu.Lock()
	if c.reg.state() != RegistrationRegistered {
		c.mu.Unlock()
		metrics.CallRejected()
		return ErrNotRegistered
	}
	if c.session != nil {
		c.mu.Unlock()
		metrics.CallRejected()
		return ErrAlreadyInCall
	}
	correlationID := NewCorrelationID()
	sess := &callSession{
		correlationID: correlationID,
		destination:   destination,
		address:       DialAddress(destination, correlationID, c.identity.Domain),
	}
	c.session = sess
	_ = c.call.fire(callEventDial)
	identity := c.identity
	c.mu.Unlock()

	c.log.Infof("calling %s", sess.address)
	c.emit(debugMessageEvent{text: "calling " + sess.address})
	metrics.CallDialed()

	// The channel open request precedes call placement so feedback
	// arriving mid-call has somewhere to go. Its failure never fails
	// the call.
	c.channel.Open(correlationID, c.handleFeedbackMessage, c.handleChannelDebug)

	handle, err := c.capability.MakeCall(identity, sess.address, c, SetupTimeout)
	if err != nil {
		c.log.Warnf("placing call: %v", err)
		c.emit(debugMessageEvent{text: "call could not be placed: " + err.Error()})
		c.emit(callEndedEvent{})
		return nil
	}
	c.mu.Lock()
	if c.session == sess {
		sess.handle = handle
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	// The session was torn down while the call was being placed; end
	// the handle here or nobody will.
	if err := handle.End(); err != nil {
		c.log.Warnf("ending orphaned call: %v", err)
	}
	return nil
}

// HangUp requests termination of the active call. Without one it is a
// no-op. The transition to Ended is only finalized when the telephony
// stack acknowledges.
func (c *Controller) HangUp() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil || sess.handle == nil {
		c.log.Debug("hangup: no active call")
		return
	}
	if err := sess.handle.End(); err != nil {
		c.log.Warnf("hangup: %v", err)
	}
}

// RegistrationState returns the current registrar-binding state.
func (c *Controller) RegistrationState() RegistrationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.state()
}

// CallState returns the current call state.
func (c *Controller) CallState() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call.state()
}

// Close tears the controller down: active call, channel, registration,
// event loop. It must not be called from within a callback.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.Unregister()
		c.channel.Close()
		close(c.done)
		c.wg.Wait()
	})
}

// telephony.RegistrationListener

func (c *Controller) OnRegistering() { c.emit(regRegisteringEvent{}) }

func (c *Controller) OnRegistered() { c.emit(regRegisteredEvent{}) }

func (c *Controller) OnRegistrationFailed(code int, reason string) {
	c.emit(regFailedEvent{code: code, reason: reason})
}

// telephony.CallListener

func (c *Controller) OnEstablished() { c.emit(callEstablishedEvent{}) }

func (c *Controller) OnEnded() { c.emit(callEndedEvent{}) }

func (c *Controller) handleFeedbackMessage(text string) {
	c.emit(feedbackMessageEvent{text: text})
}

func (c *Controller) handleChannelDebug(text string) {
	c.emit(debugMessageEvent{text: text})
}

func (c *Controller) emit(ev interface{}) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// handle applies one event: state under the lock, callbacks outside it,
// so a callback may re-enter the controller without deadlocking.
func (c *Controller) handle(ev interface{}) {
	switch ev := ev.(type) {
	case regRegisteringEvent:
		c.callbacks.RegisterStatus(RegistrationRegistering, 0, "")

	case regRegisteredEvent:
		c.mu.Lock()
		err := c.reg.fire(regEventRegistered)
		c.mu.Unlock()
		if err != nil {
			c.log.Debugf("stale registered event: %v", err)
			return
		}
		metrics.RegistrationOutcome("registered")
		c.callbacks.RegisterStatus(RegistrationRegistered, 0, "")

	case regFailedEvent:
		c.mu.Lock()
		err := c.reg.fire(regEventFail)
		c.mu.Unlock()
		if err != nil {
			c.log.Debugf("stale registration failure: %v", err)
			return
		}
		metrics.RegistrationOutcome("failed")
		c.callbacks.RegisterStatus(RegistrationFailed, ev.code, ev.reason)

	case callEstablishedEvent:
		c.mu.Lock()
		if c.session == nil {
			c.mu.Unlock()
			return
		}
		err := c.call.fire(callEventEstablish)
		c.mu.Unlock()
		if err != nil {
			c.log.Debugf("stale established event: %v", err)
			return
		}
		c.applyAudioPolicy()
		metrics.CallEstablished()
		c.callbacks.CallStatus(CallInCall)

	case callEndedEvent:
		c.mu.Lock()
		if c.session == nil {
			c.mu.Unlock()
			return
		}
		c.session = nil
		_ = c.call.fire(callEventEnd)
		_ = c.call.fire(callEventReset)
		c.mu.Unlock()
		// Channel goes down before the caller learns the call ended,
		// so Ended is never followed by feedback.
		c.channel.Close()
		metrics.CallEnded()
		c.callbacks.CallStatus(CallEnded)

	case feedbackMessageEvent:
		c.mu.Lock()
		live := c.session != nil
		c.mu.Unlock()
		if !live {
			c.log.Debugf("dropping feedback without a call: %q", ev.text)
			return
		}
		metrics.FeedbackMessage()
		c.callbacks.FeedbackMessage(ev.text)

	case debugMessageEvent:
		c.callbacks.DebugMessage(ev.text)
	}
}

// applyAudioPolicy routes audio to the loudspeaker at full volume with
// mute off, regardless of prior state.
func (c *Controller) applyAudioPolicy() {
	if c.audio == nil {
		return
	}
	if err := c.audio.SetLoudspeaker(true); err != nil {
		c.log.Warnf("audio route: %v", err)
	}
	if err := c.audio.SetVolume(1.0); err != nil {
		c.log.Warnf("audio volume: %v", err)
	}
	if err := c.audio.SetMuted(false); err != nil {
		c.log.Warnf("audio mute: %v", err)
	}
}
