package eebus

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voltgrid/voltgrid/pkg/types"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Conn carries SHIP-style JSON frames both ways. Connect installs the
// frame and drop callbacks; onDrop fires once when the wire dies
// outside an explicit Close.
type Conn interface {
	Connect(onFrame func(data []byte), onDrop func(err error)) error
	Send(data []byte) error
	Close()
}

// WSConn is the production transport: one WebSocket connection with
// the SHIP subprotocol, a read pump, and serialized writes.
type WSConn struct {
	endpoint string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSConn creates a transport for the peer endpoint
func NewWSConn(endpoint string) *WSConn {
	return &WSConn{endpoint: endpoint}
}

func (c *WSConn) Connect(onFrame func([]byte), onDrop func(error)) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{"ship"},
	}
	conn, _, err := dialer.Dial(c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, types.ErrConnectionRefused)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readPump(conn, onFrame, onDrop)
	return nil
}

func (c *WSConn) readPump(conn *websocket.Conn, onFrame func([]byte), onDrop func(error)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && onDrop != nil {
				onDrop(fmt.Errorf("read: %w", err))
			}
			return
		}
		onFrame(data)
	}
}

func (c *WSConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return types.ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *WSConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
