package tcpip

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/sim"
	"github.com/voltgrid/voltgrid/pkg/types"
)

const (
	defaultScanInterval = 5 * time.Second
	ioTimeout           = 5 * time.Second
	maxLine             = 64 * 1024
)

// Wire is the request/response line transport a session drives: one
// newline-delimited JSON request, one newline-delimited JSON response.
type Wire interface {
	Connect() error
	Close()
	Request(line []byte) ([]byte, error)
}

// request/response shapes of the line protocol
type request struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

type response struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error,omitempty"`
	Readings map[string]float64 `json:"readings,omitempty"`
	Units    map[string]string  `json:"units,omitempty"`
	Result   map[string]any     `json:"result,omitempty"`
}

// Adapter is the generic TCP/IP adapter for line-delimited JSON
// devices: poll with {"type":"read"}, publish the readings.
type Adapter struct {
	*adapter.Session
	wire   Wire
	logger zerolog.Logger
}

// New builds a TCP/IP adapter for the device
func New(dev types.Device, b *bus.Bus) (*Adapter, error) {
	cfg := dev.Connection.TCPIP
	if cfg == nil {
		return nil, fmt.Errorf("device %q: missing tcpip connection config", dev.Key)
	}

	var wire Wire
	if dev.Connection.Mock {
		wire = NewMockConn(dev.Type)
	} else {
		wire = NewTCPConn(cfg.Host, cfg.Port)
	}
	return newWithWire(dev, b, wire)
}

func newWithWire(dev types.Device, b *bus.Bus, wire Wire) (*Adapter, error) {
	cfg := dev.Connection.TCPIP
	scanInterval := defaultScanInterval
	if cfg.ScanIntervalMs > 0 {
		scanInterval = time.Duration(cfg.ScanIntervalMs) * time.Millisecond
	}

	a := &Adapter{
		wire: wire,
		logger: log.WithComponent("tcpip").With().
			Str("device_id", dev.Key).Logger(),
	}

	sess, err := adapter.NewSession(adapter.Config{
		Device:       dev,
		Bus:          b,
		Protocol:     types.ProtocolTCPIP,
		Heartbeat:    scanInterval,
		ScanInterval: scanInterval,
		Hooks: adapter.Hooks{
			Dial:  wire.Connect,
			Close: wire.Close,
			Scan:  a.scan,
			Exec:  a.exec,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Session = sess
	return a, nil
}

// MockConn returns the underlying mock transport, or nil on a real
// wire
func (a *Adapter) MockConn() *MockConn {
	if m, ok := a.wire.(*MockConn); ok {
		return m
	}
	return nil
}

func (a *Adapter) roundTrip(req request) (*response, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	raw, err := a.wire.Request(line)
	if err != nil {
		return nil, err
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", types.ErrProtocolViolation)
	}
	if !resp.OK {
		return nil, fmt.Errorf("device error: %s: %w", resp.Error, types.ErrProtocolViolation)
	}
	return &resp, nil
}

func (a *Adapter) scan() error {
	resp, err := a.roundTrip(request{Type: "read"})
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if len(resp.Readings) == 0 {
		return nil
	}
	a.PublishTelemetry(resp.Readings, resp.Units, nil)
	return nil
}

func (a *Adapter) exec(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	resp, err := a.roundTrip(request{Type: "command", Name: command, Params: params})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// TCPConn is the production wire: one TCP connection with
// newline-delimited JSON framing and per-request deadlines.
type TCPConn struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPConn creates a wire for the given host and port
func NewTCPConn(host string, port int) *TCPConn {
	return &TCPConn{addr: fmt.Sprintf("%s:%d", host, port)}
}

func (c *TCPConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, ioTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, types.ErrConnectionRefused)
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, maxLine)
	return nil
}

func (c *TCPConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

func (c *TCPConn) Request(line []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, types.ErrNotConnected
	}

	c.conn.SetDeadline(time.Now().Add(ioTimeout))
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return raw, nil
}

// MockConn is the in-memory wire for development mode and tests. It
// serves reads from a sim profile and records command requests.
type MockConn struct {
	profile *sim.Profile

	mu        sync.Mutex
	connected bool
	dialErr   error
	reqErr    error
	commands  []request
}

// NewMockConn creates a mock device of the given type
func NewMockConn(deviceType types.DeviceType) *MockConn {
	return &MockConn{profile: sim.NewProfile(deviceType, 11)}
}

// FailDial makes subsequent Connects fail with err; nil restores
func (c *MockConn) FailDial(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialErr = err
}

// FailRequests makes subsequent requests fail with err; nil restores
func (c *MockConn) FailRequests(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqErr = err
}

// Commands returns the command requests received so far
func (c *MockConn) Commands() []request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]request, len(c.commands))
	copy(out, c.commands)
	return out
}

func (c *MockConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialErr != nil {
		return c.dialErr
	}
	c.connected = true
	return nil
}

func (c *MockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *MockConn) Request(line []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, types.ErrNotConnected
	}
	if c.reqErr != nil {
		return nil, c.reqErr
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return json.Marshal(response{OK: false, Error: "bad request"})
	}

	switch req.Type {
	case "read":
		readings, units := c.profile.Readings(time.Now())
		return json.Marshal(response{OK: true, Readings: readings, Units: units})
	case "command":
		c.commands = append(c.commands, req)
		return json.Marshal(response{OK: true, Result: map[string]any{"applied": true}})
	default:
		return json.Marshal(response{OK: false, Error: fmt.Sprintf("unknown request %q", req.Type)})
	}
}
