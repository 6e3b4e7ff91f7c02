// Package telephony defines the boundary to the SIP stack: account
// registration, outbound call placement and the asynchronous events
// both produce.
package telephony

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the local SIP account bound to the registrar.
type Identity struct {
	Domain   string
	Username string
	Password string
}

// URI returns the address-of-record for the identity.
func (id Identity) URI() string {
	return fmt.Sprintf("sip:%s@%s", id.Username, id.Domain)
}

// Validate reports whether the identity can form a usable SIP profile.
func (id Identity) Validate() error {
	if id.Domain == "" {
		return fmt.Errorf("identity: domain must not be empty")
	}
	if id.Username == "" {
		return fmt.Errorf("identity: username must not be empty")
	}
	if strings.ContainsAny(id.Domain, " @") || strings.ContainsAny(id.Username, " @") {
		return fmt.Errorf("identity: malformed domain or username")
	}
	return nil
}

// RegistrationListener receives registrar events for an account.
type RegistrationListener interface {
	OnRegistering()
	OnRegistered()
	OnRegistrationFailed(code int, reason string)
}

// CallListener receives events for a single outbound call.
type CallListener interface {
	OnEstablished()
	OnEnded()
}

// Call is a handle on a placed call.
type Call interface {
	// End terminates the call: CANCEL while it is still being set up,
	// BYE once established.
	End() error
}

// Capability is the telephony surface the session controller consumes.
// All operations return once the request has been issued; completion is
// reported through the listeners.
type Capability interface {
	// Open binds the identity to its registrar and keeps the
	// registration refreshed until Close.
	Open(identity Identity, listener RegistrationListener) error
	// Close drops the registrar binding.
	Close(identity Identity) error
	// MakeCall places an outbound call to destination (user@host,
	// without scheme). The timeout bounds call setup, not duration.
	MakeCall(identity Identity, destination string, listener CallListener, timeout time.Duration) (Call, error)
}
