package ocpp

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

// Transport carries OCPP-J frames both ways. Connect installs the
// frame and drop callbacks and opens the wire; onDrop fires once when
// the wire dies outside an explicit Close.
type Transport interface {
	Connect(onFrame func(data []byte), onDrop func(err error)) error
	Send(data []byte) error
	Close()
}

// subprotocolFor maps the configured OCPP version to the registered
// WebSocket subprotocol name
func subprotocolFor(version string) (string, error) {
	switch version {
	case "", "1.6":
		return "ocpp1.6", nil
	case "2.0.1":
		return "ocpp2.0.1", nil
	default:
		return "", fmt.Errorf("unsupported ocpp version %q", version)
	}
}

// WSTransport is the production transport: one WebSocket connection
// with a read pump and serialized writes.
type WSTransport struct {
	endpoint    string
	subprotocol string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSTransport creates a transport for the endpoint and version
func NewWSTransport(endpoint, version string) (*WSTransport, error) {
	sub, err := subprotocolFor(version)
	if err != nil {
		return nil, err
	}
	return &WSTransport{endpoint: endpoint, subprotocol: sub}, nil
}

func (t *WSTransport) Connect(onFrame func([]byte), onDrop func(error)) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{t.subprotocol},
	}
	conn, _, err := dialer.Dial(t.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.endpoint, types.ErrConnectionRefused)
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	go t.readPump(conn, onFrame, onDrop)
	return nil
}

func (t *WSTransport) readPump(conn *websocket.Conn, onFrame func([]byte), onDrop func(error)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed && onDrop != nil {
				onDrop(fmt.Errorf("read: %w", err))
			}
			return
		}
		onFrame(data)
	}
}

func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return types.ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (t *WSTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn != nil {
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.conn.Close()
		t.conn = nil
	}
}
