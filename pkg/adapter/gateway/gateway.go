package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/adapter/modbus"
	"github.com/voltgrid/voltgrid/pkg/adapter/tcpip"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/sim"
	"github.com/voltgrid/voltgrid/pkg/types"
)

const (
	defaultProbe = 60 * time.Second
	dialTimeout  = 5 * time.Second
)

// Adapter is the composite gateway adapter: it fronts N child
// devices behind one physical gateway. Each child is a full adapter
// session publishing on its own device topics; child failure is
// isolated to that child. The gateway's heartbeat probes every child,
// reconnects the ones that are down, and publishes a composite status
// enumerating per-child connectivity.
type Adapter struct {
	*adapter.Session
	cfg    *types.GatewayConfig
	dev    types.Device
	bus    *bus.Bus
	logger zerolog.Logger

	mu       sync.Mutex
	children map[string]adapter.Adapter
}

// New builds a gateway adapter for the device. Children are
// instantiated on Connect, per the configured sub-protocol.
func New(dev types.Device, b *bus.Bus) (*Adapter, error) {
	cfg := dev.Connection.Gateway
	if cfg == nil {
		return nil, fmt.Errorf("device %q: missing gateway connection config", dev.Key)
	}
	switch cfg.SubProtocol {
	case types.GatewayModbus, types.GatewayTCPIP, types.GatewayMBus, types.GatewayMQTT:
	default:
		return nil, fmt.Errorf("device %q: unknown gateway sub-protocol %q", dev.Key, cfg.SubProtocol)
	}

	probe := defaultProbe
	if cfg.ProbeSec > 0 {
		probe = time.Duration(cfg.ProbeSec) * time.Second
	}

	a := &Adapter{
		cfg:      cfg,
		dev:      dev,
		bus:      b,
		children: make(map[string]adapter.Adapter, len(cfg.Children)),
		logger: log.WithComponent("gateway").With().
			Str("device_id", dev.Key).Logger(),
	}

	sess, err := adapter.NewSession(adapter.Config{
		Device:    dev,
		Bus:       b,
		Protocol:  types.ProtocolGateway,
		TopicRoot: "gateways",
		Heartbeat: probe,
		Hooks: adapter.Hooks{
			Dial:     a.dial,
			Close:    a.closeChildren,
			Probe:    a.probeChildren,
			Snapshot: a.publishComposite,
			Exec:     a.exec,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Session = sess
	return a, nil
}

// Child returns a child adapter by device key
func (a *Adapter) Child(key string) (adapter.Adapter, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.children[key]
	return c, ok
}

// Children returns the child adapters keyed by device key
func (a *Adapter) Children() map[string]adapter.Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]adapter.Adapter, len(a.children))
	for k, c := range a.children {
		out[k] = c
	}
	return out
}

// dial establishes the upstream session, then instantiates and
// connects the children. A child that fails to connect stays in its
// own reconnect cycle; it never fails the gateway.
func (a *Adapter) dial() error {
	if !a.dev.Connection.Mock {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port), dialTimeout)
		if err != nil {
			return fmt.Errorf("upstream %s:%d: %w", a.cfg.Host, a.cfg.Port, types.ErrConnectionRefused)
		}
		conn.Close()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, childCfg := range a.cfg.Children {
		if _, exists := a.children[childCfg.Key]; exists {
			continue
		}
		child, err := a.buildChild(childCfg)
		if err != nil {
			a.logger.Error().Err(err).Str("child", childCfg.Key).Msg("Child construction failed")
			continue
		}
		a.children[childCfg.Key] = child
		go func(c adapter.Adapter) {
			if err := c.Connect(); err != nil {
				a.logger.Warn().Err(err).Str("child", c.DeviceKey()).Msg("Child connect failed")
			}
			c.StartScanning()
		}(child)
	}
	return nil
}

// buildChild translates a child descriptor into a concrete adapter.
// Modbus and M-Bus children use the child address as unit id on the
// gateway's wire; TCP and MQTT children use it as a port offset.
func (a *Adapter) buildChild(childCfg types.ChildDevice) (adapter.Adapter, error) {
	dev := types.Device{
		Key:    childCfg.Key,
		SiteID: a.dev.SiteID,
		Name:   childCfg.Name,
		Type:   childCfg.Type,
	}

	switch a.cfg.SubProtocol {
	case types.GatewayModbus, types.GatewayMBus:
		dev.Protocol = types.ProtocolModbus
		dev.Connection = types.ConnectionConfig{
			Mock: a.dev.Connection.Mock,
			Modbus: &types.ModbusConfig{
				Host:           a.cfg.Host,
				Port:           a.cfg.Port,
				UnitID:         uint8(childCfg.Address),
				ScanIntervalMs: childCfg.ScanMs,
				Registers:      registersFor(childCfg.Datapoints),
			},
		}
		child, err := modbus.New(dev, a.bus)
		if err != nil {
			return nil, err
		}
		if mock := child.MockWire(); mock != nil {
			driveMock(mock, dev.Type, childCfg)
		}
		return child, nil

	case types.GatewayTCPIP, types.GatewayMQTT:
		dev.Protocol = types.ProtocolTCPIP
		dev.Connection = types.ConnectionConfig{
			Mock: a.dev.Connection.Mock,
			TCPIP: &types.TCPIPConfig{
				Host:           a.cfg.Host,
				Port:           a.cfg.Port + childCfg.Address,
				ScanIntervalMs: childCfg.ScanMs,
			},
		}
		return tcpip.New(dev, a.bus)

	default:
		return nil, fmt.Errorf("sub-protocol %q: %w", a.cfg.SubProtocol, types.ErrProtocolViolation)
	}
}

// registersFor translates gateway datapoints into Modbus register
// descriptors
func registersFor(datapoints []types.Datapoint) []types.ModbusRegister {
	regs := make([]types.ModbusRegister, 0, len(datapoints))
	for _, dp := range datapoints {
		regs = append(regs, types.ModbusRegister{
			Name:      dp.Name,
			Kind:      types.RegisterHolding,
			Address:   dp.Address,
			DataType:  dp.DataType,
			Scale:     dp.Scale,
			Unit:      dp.Unit,
			Access:    dp.Access,
			Canonical: dp.Canonical,
		})
	}
	return regs
}

// driveMock wires a sim profile into a mock child's register image so
// scans observe live values
func driveMock(mock *modbus.MockWire, deviceType types.DeviceType, childCfg types.ChildDevice) {
	profile := sim.NewProfile(deviceType, int64(childCfg.Address))
	regs := registersFor(childCfg.Datapoints)
	mock.OnRead = func(holding map[uint16]uint16) {
		readings, _ := profile.Readings(time.Now())
		for _, reg := range regs {
			channel := reg.Canonical
			if channel == "" {
				channel = reg.Name
			}
			value, ok := readings[channel]
			if !ok {
				continue
			}
			words, err := modbus.Encode(reg, value)
			if err != nil {
				continue
			}
			for i, word := range words {
				holding[reg.Address+uint16(i)] = word
			}
		}
	}
}

// probeChildren reconnects any child that is down. Runs on the
// gateway heartbeat; the gateway itself stays healthy regardless of
// child state.
func (a *Adapter) probeChildren() error {
	for key, child := range a.Children() {
		if child.IsConnected() {
			continue
		}
		if child.State() == adapter.StateConnecting {
			continue
		}
		a.logger.Debug().Str("child", key).Msg("Probing down child")
		go func(c adapter.Adapter) {
			if err := c.Connect(); err != nil {
				a.logger.Debug().Err(err).Str("child", c.DeviceKey()).Msg("Child retry failed")
			}
		}(child)
	}
	return nil
}

// publishComposite publishes the gateway status with per-child
// connectivity
func (a *Adapter) publishComposite() {
	perChild := make(map[string]string)
	for key, child := range a.Children() {
		if child.IsConnected() {
			perChild[key] = string(types.StatusOnline)
		} else {
			perChild[key] = string(types.StatusOffline)
		}
	}
	a.PublishStatus(types.StatusOnline, "", perChild)
}

func (a *Adapter) closeChildren() {
	for _, child := range a.Children() {
		child.Disconnect()
	}
}

func (a *Adapter) exec(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "status":
		children := make(map[string]any)
		for key, child := range a.Children() {
			children[key] = string(child.State())
		}
		return map[string]any{"children": children}, nil
	default:
		return nil, fmt.Errorf("unsupported command %q: %w", command, types.ErrProtocolViolation)
	}
}

// StartScanning starts every child's poll loop
func (a *Adapter) StartScanning() error {
	for _, child := range a.Children() {
		if err := child.StartScanning(); err != nil {
			a.logger.Warn().Err(err).Str("child", child.DeviceKey()).Msg("Child scan start failed")
		}
	}
	return nil
}

// StopScanning stops every child's poll loop
func (a *Adapter) StopScanning() error {
	for _, child := range a.Children() {
		child.StopScanning()
	}
	return nil
}

// Shutdown terminates every child, then the gateway session
func (a *Adapter) Shutdown() {
	a.mu.Lock()
	children := a.children
	a.children = make(map[string]adapter.Adapter)
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, child := range children {
		wg.Add(1)
		go func(c adapter.Adapter) {
			defer wg.Done()
			c.Shutdown()
		}(child)
	}
	wg.Wait()
	a.Session.Shutdown()
}
