package ocpp

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// MockTransport is the in-process OCPP peer used by development mode
// and the tests. It answers the adapter's calls with plausible
// results, lets tests originate peer calls and wire drops, and with
// chaos enabled flips random connector statuses.
type MockTransport struct {
	mu        sync.Mutex
	connected bool
	onFrame   func([]byte)
	onDrop    func(error)
	dialErr   error

	chaos      bool
	connectors int
	stopChaos  chan struct{}

	nextTxn int
	silent  bool
	actions []string
	acks    []Frame
}

// NewMockTransport creates a mock peer. With chaos set it emits
// random StatusNotification calls while connected.
func NewMockTransport(connectors int, chaos bool) *MockTransport {
	if connectors <= 0 {
		connectors = 1
	}
	return &MockTransport{
		chaos:      chaos,
		connectors: connectors,
		nextTxn:    1000,
	}
}

// FailDial makes subsequent Connects fail with err; nil restores
func (m *MockTransport) FailDial(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialErr = err
}

func (m *MockTransport) Connect(onFrame func([]byte), onDrop func(error)) error {
	m.mu.Lock()
	if m.dialErr != nil {
		err := m.dialErr
		m.mu.Unlock()
		return err
	}
	m.connected = true
	m.onFrame = onFrame
	m.onDrop = onDrop
	var stop chan struct{}
	if m.chaos {
		stop = make(chan struct{})
		m.stopChaos = stop
	}
	m.mu.Unlock()

	if stop != nil {
		go m.chaosLoop(stop)
	}
	return nil
}

func (m *MockTransport) Close() {
	m.mu.Lock()
	m.connected = false
	m.onFrame = nil
	m.onDrop = nil
	if m.stopChaos != nil {
		close(m.stopChaos)
		m.stopChaos = nil
	}
	m.mu.Unlock()
}

// Drop simulates the wire dying under the adapter
func (m *MockTransport) Drop(err error) {
	m.mu.Lock()
	onDrop := m.onDrop
	m.connected = false
	m.onFrame = nil
	m.onDrop = nil
	if m.stopChaos != nil {
		close(m.stopChaos)
		m.stopChaos = nil
	}
	m.mu.Unlock()
	if onDrop != nil {
		onDrop(err)
	}
}

// Actions returns the call actions received from the adapter, in order
func (m *MockTransport) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.actions))
	copy(out, m.actions)
	return out
}

// Acks returns the CallResult/CallError frames the adapter sent in
// response to peer calls
func (m *MockTransport) Acks() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.acks))
	copy(out, m.acks)
	return out
}

func (m *MockTransport) Send(data []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return types.ErrNotConnected
	}
	onFrame := m.onFrame
	m.mu.Unlock()

	frame, err := Parse(data)
	if err != nil {
		return err
	}

	switch frame.Type {
	case MessageCall:
		m.mu.Lock()
		m.actions = append(m.actions, frame.Action)
		silent := m.silent
		m.mu.Unlock()
		if silent {
			return nil
		}
		resp := m.respond(frame)
		// Deliver asynchronously, like a real wire
		go onFrame(resp)
	case MessageCallResult, MessageCallError:
		m.mu.Lock()
		m.acks = append(m.acks, *frame)
		m.mu.Unlock()
	}
	return nil
}

// respond builds the CallResult for an adapter-originated call
func (m *MockTransport) respond(frame *Frame) []byte {
	var payload any
	switch frame.Action {
	case "BootNotification":
		payload = map[string]any{
			"status":      "Accepted",
			"interval":    300,
			"currentTime": time.Now().UTC().Format(time.RFC3339),
		}
	case "Heartbeat":
		payload = map[string]any{"currentTime": time.Now().UTC().Format(time.RFC3339)}
	case "StartTransaction":
		m.mu.Lock()
		txn := m.nextTxn
		m.nextTxn++
		m.mu.Unlock()
		payload = map[string]any{
			"transactionId": txn,
			"idTagInfo":     map[string]any{"status": "Accepted"},
		}
	case "StopTransaction":
		payload = map[string]any{"idTagInfo": map[string]any{"status": "Accepted"}}
	default:
		payload = map[string]any{}
	}
	data, _ := MarshalCallResult(frame.ID, payload)
	return data
}

// PeerCall delivers a peer-originated call to the adapter and returns
// its message id
func (m *MockTransport) PeerCall(action string, payload any) (string, error) {
	m.mu.Lock()
	onFrame := m.onFrame
	connected := m.connected
	m.mu.Unlock()
	if !connected || onFrame == nil {
		return "", types.ErrNotConnected
	}

	id := uuid.NewString()
	data, err := MarshalCall(id, action, payload)
	if err != nil {
		return "", err
	}
	onFrame(data)
	return id, nil
}

// SilenceCalls makes the peer swallow adapter calls without
// responding; used to exercise the pending-call timeout
func (m *MockTransport) SilenceCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = true
}

func (m *MockTransport) chaosLoop(stop chan struct{}) {
	statuses := []ConnectorStatus{
		StatusAvailable, StatusPreparing, StatusSuspendedEV, StatusFaulted,
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.PeerCall("StatusNotification", map[string]any{
				"connectorId": 1 + rand.Intn(m.connectors),
				"status":      string(statuses[rand.Intn(len(statuses))]),
				"errorCode":   "NoError",
			})
		case <-stop:
			return
		}
	}
}
