package eebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// SHIP-style frame type names
const (
	frameInit       = "init"
	frameHello      = "hello"
	frameReady      = "ready"
	frameKeepalive  = "keepalive"
	frameData       = "data"
	frameControl    = "control"
	frameControlAck = "controlAck"
)

// shipFrame is the JSON frame exchanged with the peer. Exactly the
// fields relevant to Type are set.
type shipFrame struct {
	Type         string             `json:"type"`
	SKI          string             `json:"ski,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
	Units        map[string]string  `json:"units,omitempty"`
	PowerLimitW  float64            `json:"powerLimitW,omitempty"`
}

const (
	defaultKeepalive = 60 * time.Second
	handshakeWait    = 10 * time.Second
	ackWait          = 5 * time.Second
)

// Adapter is the EEBus adapter: a SHIP-style session that performs
// the init/hello/ready handshake, then receives cyclic measurement
// frames and answers with keepalives.
type Adapter struct {
	*adapter.Session
	conn   Conn
	cfg    *types.EEBusConfig
	logger zerolog.Logger

	hello     chan struct{}
	keepalive chan struct{}
	ctrlAck   chan struct{}
}

// New builds an EEBus adapter for the device. Mock connections run
// against the in-process peer.
func New(dev types.Device, b *bus.Bus) (*Adapter, error) {
	cfg := dev.Connection.EEBus
	if cfg == nil {
		return nil, fmt.Errorf("device %q: missing eebus connection config", dev.Key)
	}

	var conn Conn
	if dev.Connection.Mock {
		interval := 30 * time.Second
		if cfg.IntervalSec > 0 {
			interval = time.Duration(cfg.IntervalSec) * time.Second
		}
		conn = NewMockPeer(dev.Type, interval)
	} else {
		conn = NewWSConn(cfg.Endpoint)
	}
	return newWithConn(dev, b, conn)
}

func newWithConn(dev types.Device, b *bus.Bus, conn Conn) (*Adapter, error) {
	cfg := dev.Connection.EEBus
	keepalive := defaultKeepalive
	if cfg.KeepaliveSec > 0 {
		keepalive = time.Duration(cfg.KeepaliveSec) * time.Second
	}

	a := &Adapter{
		conn: conn,
		cfg:  cfg,
		logger: log.WithComponent("eebus").With().
			Str("device_id", dev.Key).Logger(),
	}

	sess, err := adapter.NewSession(adapter.Config{
		Device:    dev,
		Bus:       b,
		Protocol:  types.ProtocolEEBus,
		Heartbeat: keepalive,
		Hooks: adapter.Hooks{
			Dial:  a.dial,
			Close: conn.Close,
			Probe: a.probe,
			Exec:  a.exec,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Session = sess
	return a, nil
}

// MockPeer returns the underlying mock peer, or nil on a real wire
func (a *Adapter) MockPeer() *MockPeer {
	if m, ok := a.conn.(*MockPeer); ok {
		return m
	}
	return nil
}

// dial opens the wire and runs the init/hello/ready handshake
func (a *Adapter) dial() error {
	a.hello = make(chan struct{}, 1)
	a.keepalive = make(chan struct{}, 1)
	a.ctrlAck = make(chan struct{}, 1)

	if err := a.conn.Connect(a.onFrame, a.onDrop); err != nil {
		return err
	}

	if err := a.send(shipFrame{Type: frameInit, SKI: a.cfg.SKI}); err != nil {
		a.conn.Close()
		return fmt.Errorf("handshake init: %w", err)
	}
	select {
	case <-a.hello:
	case <-time.After(handshakeWait):
		a.conn.Close()
		return fmt.Errorf("handshake hello: %w", types.ErrTimeout)
	}
	if err := a.send(shipFrame{Type: frameReady}); err != nil {
		a.conn.Close()
		return fmt.Errorf("handshake ready: %w", err)
	}
	return nil
}

// probe is the session heartbeat: one keepalive round trip
func (a *Adapter) probe() error {
	if err := a.send(shipFrame{Type: frameKeepalive}); err != nil {
		return err
	}
	select {
	case <-a.keepalive:
		return nil
	case <-time.After(ackWait):
		return fmt.Errorf("keepalive: %w", types.ErrTimeout)
	}
}

func (a *Adapter) send(frame shipFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return a.conn.Send(data)
}

func (a *Adapter) onFrame(data []byte) {
	var frame shipFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.logger.Warn().Err(err).Msg("Unparseable frame dropped")
		return
	}

	switch frame.Type {
	case frameHello:
		select {
		case a.hello <- struct{}{}:
		default:
		}
	case frameKeepalive:
		select {
		case a.keepalive <- struct{}{}:
		default:
		}
	case frameControlAck:
		select {
		case a.ctrlAck <- struct{}{}:
		default:
		}
	case frameData:
		if len(frame.Measurements) == 0 {
			return
		}
		a.PublishTelemetry(frame.Measurements, frame.Units, nil)
	default:
		a.logger.Debug().Str("type", frame.Type).Msg("Unhandled frame type")
	}
}

func (a *Adapter) onDrop(err error) {
	a.Fail(err)
}

// SetPowerLimit sends a control frame limiting the device's power
// draw and waits for the acknowledgement
func (a *Adapter) SetPowerLimit(watts float64) error {
	if err := a.send(shipFrame{Type: frameControl, PowerLimitW: watts}); err != nil {
		return err
	}
	select {
	case <-a.ctrlAck:
		return nil
	case <-time.After(ackWait):
		return fmt.Errorf("control ack: %w", types.ErrTimeout)
	}
}

func (a *Adapter) exec(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "setPowerLimit":
		watts, ok := params["watts"].(float64)
		if !ok {
			return nil, fmt.Errorf("setPowerLimit needs numeric watts: %w", types.ErrProtocolViolation)
		}
		if err := a.SetPowerLimit(watts); err != nil {
			return nil, err
		}
		return map[string]any{"watts": watts}, nil
	default:
		return nil, fmt.Errorf("unsupported command %q: %w", command, types.ErrProtocolViolation)
	}
}
