package eebus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/voltgrid/voltgrid/pkg/sim"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// MockPeer is the in-process EEBus device. It answers the handshake,
// echoes keepalives, acknowledges control frames, and pushes cyclic
// measurement frames from a sim profile once the session is ready.
type MockPeer struct {
	profile  *sim.Profile
	interval time.Duration

	mu        sync.Mutex
	connected bool
	ready     bool
	onFrame   func([]byte)
	onDrop    func(error)
	stop      chan struct{}
	dialErr   error
	limits    []float64
}

// NewMockPeer creates a mock device of the given type pushing
// measurements at the given interval
func NewMockPeer(deviceType types.DeviceType, interval time.Duration) *MockPeer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MockPeer{
		profile:  sim.NewProfile(deviceType, 7),
		interval: interval,
	}
}

// FailDial makes subsequent Connects fail with err; nil restores
func (m *MockPeer) FailDial(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialErr = err
}

// PowerLimits returns the control power limits the adapter sent
func (m *MockPeer) PowerLimits() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.limits))
	copy(out, m.limits)
	return out
}

func (m *MockPeer) Connect(onFrame func([]byte), onDrop func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialErr != nil {
		return m.dialErr
	}
	m.connected = true
	m.ready = false
	m.onFrame = onFrame
	m.onDrop = onDrop
	return nil
}

func (m *MockPeer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *MockPeer) closeLocked() {
	m.connected = false
	m.ready = false
	m.onFrame = nil
	m.onDrop = nil
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Drop simulates the wire dying under the adapter
func (m *MockPeer) Drop(err error) {
	m.mu.Lock()
	onDrop := m.onDrop
	m.closeLocked()
	m.mu.Unlock()
	if onDrop != nil {
		onDrop(err)
	}
}

func (m *MockPeer) Send(data []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return types.ErrNotConnected
	}
	onFrame := m.onFrame
	m.mu.Unlock()

	var frame shipFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}

	switch frame.Type {
	case frameInit:
		m.reply(onFrame, shipFrame{Type: frameHello})
	case frameReady:
		m.mu.Lock()
		m.ready = true
		stop := make(chan struct{})
		m.stop = stop
		m.mu.Unlock()
		go m.measurementLoop(stop)
	case frameKeepalive:
		m.reply(onFrame, shipFrame{Type: frameKeepalive})
	case frameControl:
		m.mu.Lock()
		m.limits = append(m.limits, frame.PowerLimitW)
		m.mu.Unlock()
		m.reply(onFrame, shipFrame{Type: frameControlAck})
	}
	return nil
}

func (m *MockPeer) reply(onFrame func([]byte), frame shipFrame) {
	data, _ := json.Marshal(frame)
	// Deliver asynchronously, like a real wire
	go onFrame(data)
}

func (m *MockPeer) measurementLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			onFrame := m.onFrame
			ready := m.ready
			m.mu.Unlock()
			if !ready || onFrame == nil {
				return
			}
			readings, units := m.profile.Readings(time.Now())
			data, _ := json.Marshal(shipFrame{
				Type:         frameData,
				Measurements: readings,
				Units:        units,
			})
			onFrame(data)
		case <-stop:
			return
		}
	}
}
