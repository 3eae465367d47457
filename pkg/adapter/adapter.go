package adapter

import (
	"github.com/voltgrid/voltgrid/pkg/types"
)

// State is the adapter session state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateShuttingDown State = "shutting_down"
)

// Adapter is the contract every protocol adapter implements. An
// adapter is a long-lived per-device session owning one device's wire
// connection; it emits normalized status/telemetry on the bus and
// accepts commands from the bus.
type Adapter interface {
	// DeviceKey returns the stable device id this session is bound to
	DeviceKey() string

	// Protocol returns the protocol family
	Protocol() types.Protocol

	// Connect establishes the wire connection. Idempotent; concurrent
	// calls while connecting are coalesced and observe the outcome of
	// the in-flight attempt. A failure schedules reconnect with
	// backoff before returning.
	Connect() error

	// Disconnect releases the wire connection and cancels all owned
	// timers. Idempotent; safe in any state. The session may be
	// reconnected afterwards.
	Disconnect() error

	// IsConnected reports whether the session is Connected
	IsConnected() bool

	// State returns the current session state
	State() State

	// StartScanning begins the poll loop for polling adapters. For
	// event-driven adapters this is a no-op.
	StartScanning() error

	// StopScanning stops the poll loop; no-op when not scanning
	StopScanning() error

	// ExecuteCommand runs a protocol-specific command, publishes a
	// command_response on the bus, and returns the response message.
	// It never blocks longer than the protocol command timeout;
	// timeouts surface as success=false with a Timeout error kind.
	ExecuteCommand(command string, params map[string]any) (*types.Message, error)

	// Shutdown terminates the session: cancels timers, releases the
	// wire, unsubscribes from the command topic. After Shutdown
	// returns the session publishes nothing further. Terminal.
	Shutdown()
}
