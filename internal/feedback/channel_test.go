package feedback

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu       sync.Mutex
	messages []string
	debug    []string
}

func (s *sink) onMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
}

func (s *sink) onDebug(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = append(s.debug, text)
}

func (s *sink) snapshotMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *sink) debugCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.debug)
}

// feedbackServer upgrades, records the register envelope and then plays
// back the given frames.
func feedbackServer(t *testing.T, frames []string, registered chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		var reg registerPayload
		_ = json.Unmarshal(env.Data, &reg)
		if env.Event == "register" {
			registered <- reg.User
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestOpenRegistersAndForwards(t *testing.T) {
	registered := make(chan string, 1)
	srv := feedbackServer(t, []string{
		`{"event":"message","data":"hello caller"}`,
		`{"event":"custom-api","data":{"action":"highlight"}}`,
		`plain text frame`,
	}, registered)
	defer srv.Close()

	c := NewCoordinator(Config{Endpoint: srv.URL, Path: "/"}, nil)
	defer c.Close()

	s := &sink{}
	c.Open("123456789012", s.onMessage, s.onDebug)

	select {
	case user := <-registered:
		assert.Equal(t, "123456789012", user)
	case <-time.After(5 * time.Second):
		t.Fatal("register envelope never arrived")
	}

	require.Eventually(t, func() bool {
		return len(s.snapshotMessages()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	msgs := s.snapshotMessages()
	assert.Equal(t, "hello caller", msgs[0])
	assert.JSONEq(t, `{"action":"highlight"}`, msgs[1])
	assert.Equal(t, "plain text frame", msgs[2])
}

func TestCloseStopsDelivery(t *testing.T) {
	registered := make(chan string, 1)
	srv := feedbackServer(t, nil, registered)
	defer srv.Close()

	c := NewCoordinator(Config{Endpoint: srv.URL, Path: "/"}, nil)
	s := &sink{}
	c.Open("000000000001", s.onMessage, s.onDebug)

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("channel never connected")
	}

	c.Close()
	c.Close() // idempotent

	assert.Empty(t, s.snapshotMessages())
}

func TestConnectFailureIsDebugOnly(t *testing.T) {
	c := NewCoordinator(Config{Endpoint: "http://127.0.0.1:1", Path: "/"}, nil)
	defer c.Close()

	s := &sink{}
	c.Open("000000000002", s.onMessage, s.onDebug)

	require.Eventually(t, func() bool {
		return s.debugCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.snapshotMessages())
}

func TestBadEndpointScheme(t *testing.T) {
	c := NewCoordinator(Config{Endpoint: "ftp://example.com", Path: "/"}, nil)
	s := &sink{}
	c.Open("000000000003", s.onMessage, s.onDebug)

	require.Eventually(t, func() bool {
		return s.debugCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, "hi", decodePayload([]byte(`{"event":"message","data":"hi"}`)))
	assert.Equal(t, `{"n":1}`, decodePayload([]byte(`{"event":"message","data":{"n":1}}`)))
	assert.Equal(t, "not json", decodePayload([]byte("not json")))
	assert.Equal(t, `{"data":"x"}`, decodePayload([]byte(`{"data":"x"}`)))
}
