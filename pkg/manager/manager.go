package manager

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/adapter/eebus"
	"github.com/voltgrid/voltgrid/pkg/adapter/gateway"
	"github.com/voltgrid/voltgrid/pkg/adapter/modbus"
	"github.com/voltgrid/voltgrid/pkg/adapter/ocpp"
	"github.com/voltgrid/voltgrid/pkg/adapter/tcpip"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// Factory builds an adapter for a device
type Factory func(dev types.Device, b *bus.Bus) (adapter.Adapter, error)

// DefaultFactory dispatches on the device's protocol family
func DefaultFactory(dev types.Device, b *bus.Bus) (adapter.Adapter, error) {
	switch dev.Protocol {
	case types.ProtocolModbus:
		return modbus.New(dev, b)
	case types.ProtocolOCPP:
		return ocpp.New(dev, b)
	case types.ProtocolEEBus:
		return eebus.New(dev, b)
	case types.ProtocolTCPIP:
		return tcpip.New(dev, b)
	case types.ProtocolGateway:
		return gateway.New(dev, b)
	default:
		return nil, fmt.Errorf("device %q: unknown protocol %q", dev.Key, dev.Protocol)
	}
}

// Manager owns the adapter table: one adapter session per device key.
// Ownership is one-directional; adapters never reference the manager,
// they publish on the bus.
type Manager struct {
	bus     *bus.Bus
	factory Factory
	logger  zerolog.Logger

	// AutoConnect makes AddDevice connect and start scanning
	// immediately; development mode sets it
	AutoConnect bool

	mu       sync.Mutex
	adapters map[string]adapter.Adapter
}

// New creates a manager using the given factory; nil means
// DefaultFactory
func New(b *bus.Bus, factory Factory) *Manager {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Manager{
		bus:      b,
		factory:  factory,
		adapters: make(map[string]adapter.Adapter),
		logger:   log.WithComponent("manager"),
	}
}

// AddDevice builds and registers an adapter for the device. An
// existing adapter under the same key is fully shut down before the
// replacement is constructed.
func (m *Manager) AddDevice(dev types.Device) (adapter.Adapter, error) {
	if dev.Key == "" {
		return nil, fmt.Errorf("device with empty key")
	}

	m.mu.Lock()
	old := m.adapters[dev.Key]
	delete(m.adapters, dev.Key)
	m.mu.Unlock()

	if old != nil {
		m.logger.Info().Str("device_id", dev.Key).Msg("Replacing adapter")
		old.Shutdown()
	}

	a, err := m.factory(dev, m.bus)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dev.Key, err)
	}

	m.mu.Lock()
	m.adapters[dev.Key] = a
	m.mu.Unlock()
	m.logger.Info().Str("device_id", dev.Key).Str("protocol", string(dev.Protocol)).Msg("Adapter added")

	if m.AutoConnect {
		go func() {
			if err := a.Connect(); err != nil {
				m.logger.Warn().Err(err).Str("device_id", dev.Key).Msg("Auto-connect failed")
			}
			a.StartScanning()
		}()
	}
	return a, nil
}

// RemoveDevice shuts the device's adapter down and removes it from
// the table
func (m *Manager) RemoveDevice(key string) error {
	m.mu.Lock()
	a, ok := m.adapters[key]
	delete(m.adapters, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("device %q: %w", key, types.ErrAdapterNotFound)
	}
	a.Shutdown()
	m.logger.Info().Str("device_id", key).Msg("Adapter removed")
	return nil
}

// GetAdapter returns the adapter for a device key
func (m *Manager) GetAdapter(key string) (adapter.Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[key]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", key, types.ErrAdapterNotFound)
	}
	return a, nil
}

// GetAll returns every registered adapter
func (m *Manager) GetAll() []adapter.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, a)
	}
	return out
}

// Count returns the number of registered adapters
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.adapters)
}

// Shutdown terminates every adapter in parallel and clears the
// table. Individual failures are logged; the sweep always completes.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	adapters := m.adapters
	m.adapters = make(map[string]adapter.Adapter)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for key, a := range adapters {
		wg.Add(1)
		go func(key string, a adapter.Adapter) {
			defer wg.Done()
			a.Shutdown()
			m.logger.Debug().Str("device_id", key).Msg("Adapter shut down")
		}(key, a)
	}
	wg.Wait()
	m.logger.Info().Int("count", len(adapters)).Msg("Manager shut down")
}
