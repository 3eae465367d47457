package modbus

import (
	"fmt"
	"sync"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// Frame is one scripted register image: address → word, applied to
// the holding table when the script advances
type Frame map[uint16]uint16

// MockWire is the in-memory Modbus transport. It backs development
// mode and the test suites: register tables are plain maps, connect
// and read failures are injectable, and a script of holding-table
// frames can be stepped through with Advance.
type MockWire struct {
	mu       sync.Mutex
	holding  map[uint16]uint16
	input    map[uint16]uint16
	coils    map[uint16]bool
	discrete map[uint16]bool

	script   []Frame
	scriptAt int

	connected bool
	dialErr   error
	readErr   error

	// OnRead, when set, runs before each read and may mutate the
	// holding table in place; development mode uses it to refresh the
	// image from a sim profile. Runs with the wire lock held, so it
	// must not call back into the wire.
	OnRead func(holding map[uint16]uint16)
}

// NewMockWire creates an empty mock transport
func NewMockWire() *MockWire {
	return &MockWire{
		holding:  make(map[uint16]uint16),
		input:    make(map[uint16]uint16),
		coils:    make(map[uint16]bool),
		discrete: make(map[uint16]bool),
	}
}

// Script installs holding-table frames; the first frame is applied
// immediately, each Advance applies the next
func (w *MockWire) Script(frames ...Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.script = frames
	w.scriptAt = 0
	if len(frames) > 0 {
		w.applyLocked(frames[0])
	}
}

// Advance applies the next scripted frame; no-op past the last
func (w *MockWire) Advance() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scriptAt+1 < len(w.script) {
		w.scriptAt++
		w.applyLocked(w.script[w.scriptAt])
	}
}

func (w *MockWire) applyLocked(f Frame) {
	for addr, word := range f {
		w.holding[addr] = word
	}
}

// SetHolding sets one holding register word
func (w *MockWire) SetHolding(address, word uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.holding[address] = word
}

// SetInput sets one input register word
func (w *MockWire) SetInput(address, word uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.input[address] = word
}

// SetCoil sets one coil
func (w *MockWire) SetCoil(address uint16, on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.coils[address] = on
}

// SetDiscrete sets one discrete input
func (w *MockWire) SetDiscrete(address uint16, on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.discrete[address] = on
}

// Holding returns the current word at a holding address
func (w *MockWire) Holding(address uint16) uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holding[address]
}

// Coil returns the current state of a coil
func (w *MockWire) Coil(address uint16) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.coils[address]
}

// FailDial makes subsequent Connects fail with err; nil restores
func (w *MockWire) FailDial(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dialErr = err
}

// FailReads makes subsequent reads fail with err; nil restores
func (w *MockWire) FailReads(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readErr = err
}

func (w *MockWire) Connect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialErr != nil {
		return w.dialErr
	}
	w.connected = true
	return nil
}

func (w *MockWire) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
}

// Connected reports whether the mock is currently connected
func (w *MockWire) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *MockWire) ReadRegisters(kind types.RegisterKind, address, count uint16) ([]uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return nil, types.ErrNotConnected
	}
	if w.readErr != nil {
		return nil, w.readErr
	}
	if w.OnRead != nil {
		w.OnRead(w.holding)
	}

	words := make([]uint16, count)
	for i := uint16(0); i < count; i++ {
		switch kind {
		case types.RegisterHolding:
			words[i] = w.holding[address+i]
		case types.RegisterInput:
			words[i] = w.input[address+i]
		case types.RegisterCoil:
			if w.coils[address+i] {
				words[i] = 1
			}
		case types.RegisterDiscrete:
			if w.discrete[address+i] {
				words[i] = 1
			}
		default:
			return nil, fmt.Errorf("unknown register kind %q: %w", kind, types.ErrProtocolViolation)
		}
	}
	return words, nil
}

func (w *MockWire) WriteRegisters(address uint16, words []uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return types.ErrNotConnected
	}
	for i, word := range words {
		w.holding[address+uint16(i)] = word
	}
	return nil
}

func (w *MockWire) WriteCoil(address uint16, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return types.ErrNotConnected
	}
	w.coils[address] = on
	return nil
}
