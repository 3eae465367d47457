package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// Wire is the Modbus transport a session drives. Reads and writes are
// addressed within one unit; the wire carries the unit id.
type Wire interface {
	// Connect establishes the transport
	Connect() error

	// Close releases the transport; safe when already closed
	Close()

	// ReadRegisters reads count points from the given register table.
	// Coil and discrete reads return one word per point, 0 or 1.
	ReadRegisters(kind types.RegisterKind, address, count uint16) ([]uint16, error)

	// WriteRegisters writes words to the holding table at address
	WriteRegisters(address uint16, words []uint16) error

	// WriteCoil writes a single coil
	WriteCoil(address uint16, on bool) error
}

// IsReconnectError reports whether a wire error should fail the
// session and trigger reconnect, as opposed to a semantic error that
// only fails the operation.
func IsReconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrConnectionRefused) ||
		errors.Is(err, types.ErrTimeout) ||
		errors.Is(err, types.ErrNotConnected) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"port is closed",
		"connection timed out",
		"not connected",
		"connection refused",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func functionCode(kind types.RegisterKind) (byte, error) {
	switch kind {
	case types.RegisterHolding:
		return 0x03, nil
	case types.RegisterInput:
		return 0x04, nil
	case types.RegisterCoil:
		return 0x01, nil
	case types.RegisterDiscrete:
		return 0x02, nil
	default:
		return 0, fmt.Errorf("unknown register kind %q: %w", kind, types.ErrProtocolViolation)
	}
}
