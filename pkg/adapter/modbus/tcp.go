package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/voltgrid/voltgrid/pkg/types"
)

const (
	// DefaultPort is the standard Modbus TCP port
	DefaultPort = 502

	mbapHeaderLen = 7
	ioTimeout     = 5 * time.Second
)

// TCPWire speaks Modbus TCP: MBAP-framed PDUs over a single
// connection, one request in flight at a time.
type TCPWire struct {
	addr   string
	unitID uint8

	mu   sync.Mutex
	conn net.Conn
	txn  uint16
}

// NewTCPWire creates a wire for the given host/port and unit id
func NewTCPWire(host string, port int, unitID uint8) *TCPWire {
	if port == 0 {
		port = DefaultPort
	}
	return &TCPWire{addr: fmt.Sprintf("%s:%d", host, port), unitID: unitID}
}

func (w *TCPWire) Connect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", w.addr, ioTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.addr, types.ErrConnectionRefused)
	}
	w.conn = conn
	return nil
}

func (w *TCPWire) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// roundTrip frames the PDU with an MBAP header, sends it, and returns
// the response PDU after validating transaction id and function code.
func (w *TCPWire) roundTrip(pdu []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil, types.ErrNotConnected
	}

	w.txn++
	frame := make([]byte, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], w.txn)
	binary.BigEndian.PutUint16(frame[2:4], 0) // protocol id
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+len(pdu)))
	frame[6] = w.unitID
	copy(frame[mbapHeaderLen:], pdu)

	deadline := time.Now().Add(ioTimeout)
	if err := w.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := w.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(w.conn, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if txn := binary.BigEndian.Uint16(header[0:2]); txn != w.txn {
		return nil, fmt.Errorf("transaction id mismatch, sent %d got %d: %w",
			w.txn, txn, types.ErrProtocolViolation)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	if length < 2 || length > 256 {
		return nil, fmt.Errorf("implausible frame length %d: %w", length, types.ErrProtocolViolation)
	}

	resp := make([]byte, length-1)
	if _, err := io.ReadFull(w.conn, resp); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp[0] == pdu[0]|0x80 {
		if len(resp) < 2 {
			return nil, fmt.Errorf("truncated exception: %w", types.ErrProtocolViolation)
		}
		return nil, fmt.Errorf("modbus exception 0x%02x for function 0x%02x: %w",
			resp[1], pdu[0], types.ErrProtocolViolation)
	}
	if resp[0] != pdu[0] {
		return nil, fmt.Errorf("function code mismatch, sent 0x%02x got 0x%02x: %w",
			pdu[0], resp[0], types.ErrProtocolViolation)
	}
	return resp, nil
}

func (w *TCPWire) ReadRegisters(kind types.RegisterKind, address, count uint16) ([]uint16, error) {
	fc, err := functionCode(kind)
	if err != nil {
		return nil, err
	}

	pdu := make([]byte, 5)
	pdu[0] = fc
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], count)

	resp, err := w.roundTrip(pdu)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("truncated read response: %w", types.ErrProtocolViolation)
	}
	data := resp[2:]

	switch kind {
	case types.RegisterHolding, types.RegisterInput:
		if len(data) < int(count)*2 {
			return nil, fmt.Errorf("short register payload: %w", types.ErrProtocolViolation)
		}
		words := make([]uint16, count)
		for i := range words {
			words[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
		}
		return words, nil
	default:
		// Bit tables arrive packed LSB-first
		if len(data) < (int(count)+7)/8 {
			return nil, fmt.Errorf("short bit payload: %w", types.ErrProtocolViolation)
		}
		words := make([]uint16, count)
		for i := range words {
			if data[i/8]&(1<<(i%8)) != 0 {
				words[i] = 1
			}
		}
		return words, nil
	}
}

func (w *TCPWire) WriteRegisters(address uint16, words []uint16) error {
	if len(words) == 1 {
		// Function 0x06, write single register
		pdu := make([]byte, 5)
		pdu[0] = 0x06
		binary.BigEndian.PutUint16(pdu[1:3], address)
		binary.BigEndian.PutUint16(pdu[3:5], words[0])
		_, err := w.roundTrip(pdu)
		return err
	}

	// Function 0x10, write multiple registers
	pdu := make([]byte, 6+len(words)*2)
	pdu[0] = 0x10
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(words)))
	pdu[5] = byte(len(words) * 2)
	for i, word := range words {
		binary.BigEndian.PutUint16(pdu[6+i*2:8+i*2], word)
	}
	_, err := w.roundTrip(pdu)
	return err
}

func (w *TCPWire) WriteCoil(address uint16, on bool) error {
	// Function 0x05, write single coil
	pdu := make([]byte, 5)
	pdu[0] = 0x05
	binary.BigEndian.PutUint16(pdu[1:3], address)
	if on {
		binary.BigEndian.PutUint16(pdu[3:5], 0xFF00)
	}
	_, err := w.roundTrip(pdu)
	return err
}
