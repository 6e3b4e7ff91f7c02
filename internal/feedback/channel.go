// Package feedback maintains the auxiliary event channel that carries
// application-level feedback for a call session. The channel is best
// effort: a voice call proceeds whether or not it could be opened.
package feedback

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config locates the feedback endpoint.
type Config struct {
	Endpoint string
	Path     string
}

// envelope is the wire frame: a named event with an opaque payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registerPayload struct {
	User string `json:"user"`
}

// Coordinator owns at most one connection to the feedback endpoint.
// Open is keyed by the call's correlation id; the remote side uses the
// key to address messages back to this session.
type Coordinator struct {
	endpoint string
	path     string
	log      *logrus.Entry

	mu   sync.Mutex
	conn *websocket.Conn
	gen  int
}

// NewCoordinator creates a coordinator for the configured endpoint.
func NewCoordinator(cfg Config, log *logrus.Entry) *Coordinator {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logrus.NewEntry(logger)
	}
	return &Coordinator{endpoint: cfg.Endpoint, path: cfg.Path, log: log}
}

// Open connects asynchronously and registers key with the remote
// endpoint. Inbound payloads are forwarded verbatim to onMessage;
// connection diagnostics go to onDebug. Any previous connection is
// dropped first.
func (c *Coordinator) Open(key string, onMessage, onDebug func(text string)) {
	c.mu.Lock()
	c.closeLocked()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.connect(gen, key, onMessage, onDebug)
}

// Close disconnects if currently connected. Closing an already-closed
// channel is a no-op.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.gen++
}

func (c *Coordinator) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.log.Debug("feedback channel disconnected")
	}
}

func (c *Coordinator) connect(gen int, key string, onMessage, onDebug func(string)) {
	wsURL, err := c.websocketURL()
	if err != nil {
		c.log.Debugf("feedback endpoint invalid: %v", err)
		onDebug(fmt.Sprintf("feedback channel unavailable: %v", err))
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		c.log.Debugf("feedback connect to %s failed: %v", wsURL, err)
		onDebug(fmt.Sprintf("feedback channel unavailable: %v", err))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// Closed or reopened while we were dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Debugf("feedback channel connected, registering %s", key)

	data, _ := json.Marshal(registerPayload{User: key})
	if err := conn.WriteJSON(envelope{Event: "register", Data: data}); err != nil {
		c.log.Debugf("feedback register failed: %v", err)
		onDebug(fmt.Sprintf("feedback channel unavailable: %v", err))
		c.Close()
		return
	}

	c.readLoop(gen, conn, onMessage)
}

func (c *Coordinator) readLoop(gen int, conn *websocket.Conn, onMessage func(string)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Debugf("feedback read loop done: %v", err)
			return
		}
		c.mu.Lock()
		live := c.gen == gen && c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}
		onMessage(decodePayload(data))
	}
}

// decodePayload unwraps the envelope without imposing a schema: a JSON
// string payload is delivered as its text, anything else as raw JSON.
// Frames that are not envelopes are forwarded as-is.
func decodePayload(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" || len(env.Data) == 0 {
		return string(data)
	}
	var s string
	if err := json.Unmarshal(env.Data, &s); err == nil {
		return s
	}
	return string(env.Data)
}

func (c *Coordinator) websocketURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported feedback scheme %q", u.Scheme)
	}
	u.Path = c.path
	return u.String(), nil
}
