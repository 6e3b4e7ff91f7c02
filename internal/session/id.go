package session

import "math/rand"

// correlationIDLength matches what the remote dialplan expects.
const correlationIDLength = 12

// NewCorrelationID returns a random decimal string used both in the
// dial address and as the feedback-channel registration key. It is a
// correlation key, not a security token.
func NewCorrelationID() string {
	var b [correlationIDLength]byte
	for i := range b {
		b[i] = '0' + byte(rand.Intn(10))
	}
	return string(b[:])
}

// DialAddress composes the full address for an outbound call. The
// correlation id is concatenated directly after the destination with no
// separator: <destination><correlationID>@<domain>.
func DialAddress(destination, correlationID, domain string) string {
	return destination + correlationID + "@" + domain
}
