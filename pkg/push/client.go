package push

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// client is one WebSocket connection and its subscription scope. A
// scope is a site id, a device id, or both; a client with no scope
// receives nothing until it subscribes.
type client struct {
	id   string
	conn *websocket.Conn

	mu           sync.Mutex
	siteID       *uint64
	deviceID     string
	lastActivity time.Time
	awaitingPong bool
	closed       bool
}

func newClient(id string, conn *websocket.Conn) *client {
	c := &client{id: id, conn: conn, lastActivity: time.Now()}
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.awaitingPong = false
		c.lastActivity = time.Now()
		c.mu.Unlock()
		return nil
	})
	return c
}

func (c *client) subscribe(siteID *uint64, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if siteID != nil {
		c.siteID = siteID
	}
	if deviceID != "" {
		c.deviceID = deviceID
	}
}

func (c *client) unsubscribe(siteID *uint64, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if siteID != nil && c.siteID != nil && *siteID == *c.siteID {
		c.siteID = nil
	}
	if deviceID != "" && deviceID == c.deviceID {
		c.deviceID = ""
	}
}

func (c *client) scope() (*uint64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.siteID, c.deviceID
}

// inScope reports whether a message with the given origin should
// reach this client
func (c *client) inScope(siteID uint64, haveSite bool, deviceKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.siteID != nil && haveSite && *c.siteID == siteID {
		return true
	}
	if c.deviceID != "" && deviceKey != "" && c.deviceID == deviceKey {
		return true
	}
	return false
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *client) lastActivityBefore(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity.Before(cutoff)
}

// write sends one JSON envelope; writes are serialized under the
// client lock since bus callbacks and the liveness loops race here
func (c *client) write(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

// ping sends a WebSocket-level ping and marks the client as owing a
// pong
func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.awaitingPong = true
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// missedPing reports whether the previous ping went unanswered
func (c *client) missedPing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingPong
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.conn.Close()
}
