package telephony

import (
	"io"
	"sync"
	"testing"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endRecorder struct {
	mu          sync.Mutex
	established int
	ended       int
}

func (r *endRecorder) OnEstablished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.established++
}

func (r *endRecorder) OnEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
}

func (r *endRecorder) endedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

func newByeTestClient() *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Client{log: logrus.NewEntry(logger), calls: make(map[string]*outboundCall)}
}

func buildBye(t *testing.T, callID string) sip.Request {
	t.Helper()
	to, err := parser.ParseUri("sip:7804@example.com")
	require.NoError(t, err)
	from, err := parser.ParseUri("sip:alice@example.com")
	require.NoError(t, err)
	cid := sip.CallID(callID)
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(to).
		SetFrom(&sip.Address{Uri: from}).
		SetTo(&sip.Address{Uri: to}).
		SetCallID(&cid).
		Build()
	require.NoError(t, err)
	return req
}

func TestHandleByeEndsTrackedCall(t *testing.T) {
	c := newByeTestClient()
	rec := &endRecorder{}
	call := &outboundCall{client: c, callID: "bye-1", listener: rec, established: true}
	c.calls[call.callID] = call

	c.handleBye(buildBye(t, "bye-1"), nil)
	assert.Equal(t, 1, rec.endedCount())
	assert.Empty(t, c.calls)

	// a retransmitted BYE must not notify again
	c.handleBye(buildBye(t, "bye-1"), nil)
	assert.Equal(t, 1, rec.endedCount())
}

func TestHandleByeUnknownCallIgnored(t *testing.T) {
	c := newByeTestClient()
	rec := &endRecorder{}
	call := &outboundCall{client: c, callID: "bye-2", listener: rec, established: true}
	c.calls[call.callID] = call

	c.handleBye(buildBye(t, "someone-else"), nil)
	assert.Equal(t, 0, rec.endedCount())
	assert.Len(t, c.calls, 1)
}
