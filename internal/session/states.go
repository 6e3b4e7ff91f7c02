package session

// RegistrationState is the lifecycle of the registrar binding.
type RegistrationState int

const (
	RegistrationUnregistered RegistrationState = iota
	RegistrationRegistering
	RegistrationRegistered
	RegistrationFailed
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationUnregistered:
		return "unregistered"
	case RegistrationRegistering:
		return "registering"
	case RegistrationRegistered:
		return "registered"
	case RegistrationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CallState is the lifecycle of the single active call.
type CallState int

const (
	CallIdle CallState = iota
	CallDialing
	CallInCall
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallDialing:
		return "dialing"
	case CallInCall:
		return "incall"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}
