package types

import (
	"time"
)

// MessageType tags the variant carried by a bus message
type MessageType string

const (
	MessageStatus          MessageType = "status"
	MessageTelemetry       MessageType = "telemetry"
	MessageCommand         MessageType = "command"
	MessageCommandResponse MessageType = "command_response"
	MessageEvent           MessageType = "event"
)

// Message is the normalized envelope every adapter publishes and every
// bus consumer receives. The envelope fields are always present; the
// body fields depend on MessageType. Timestamp is assigned at publish
// time by the producing adapter and is never rewritten by the bus.
type Message struct {
	MessageID   string      `json:"messageId"`
	MessageType MessageType `json:"messageType"`
	Timestamp   time.Time   `json:"timestamp"`
	DeviceID    string      `json:"deviceId"`
	DeviceType  DeviceType  `json:"deviceType,omitempty"`
	Protocol    Protocol    `json:"protocol,omitempty"`

	// Telemetry body
	Readings map[string]float64 `json:"readings,omitempty"`
	Units    map[string]string  `json:"units,omitempty"`

	// Status body
	Status  DeviceStatus `json:"status,omitempty"`
	Details string       `json:"details,omitempty"`
	Version string       `json:"version,omitempty"`

	// Command / command response body
	Command    string         `json:"command,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Success    bool           `json:"success,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`

	// Event body
	Event string `json:"event,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Canonical telemetry channel names. Every adapter mirrors well-known
// readings into these so downstream consumers never depend on
// device-model register naming.
const (
	ChannelPower         = "power"
	ChannelEnergy        = "energy"
	ChannelVoltage       = "voltage"
	ChannelCurrent       = "current"
	ChannelFrequency     = "frequency"
	ChannelTemperature   = "temperature"
	ChannelStateOfCharge = "stateOfCharge"
)

// CanonicalChannels is the set of canonical channel names with their
// default units. Device-type extensions (connector<N>_energy,
// cell<N>_voltage) are derived, not listed here.
var CanonicalChannels = map[string]string{
	ChannelPower:         "W",
	ChannelEnergy:        "Wh",
	ChannelVoltage:       "V",
	ChannelCurrent:       "A",
	ChannelFrequency:     "Hz",
	ChannelTemperature:   "°C",
	ChannelStateOfCharge: "%",
}

// IsCanonicalChannel reports whether name is a canonical channel
func IsCanonicalChannel(name string) bool {
	_, ok := CanonicalChannels[name]
	return ok
}

// Adapter lifecycle event names published as MessageEvent
const (
	EventConnected         = "connected"
	EventDisconnected      = "disconnected"
	EventHeartbeat         = "heartbeat"
	EventError             = "error"
	EventTransactionStart  = "transactionStart"
	EventTransactionUpdate = "transactionUpdate"
	EventTransactionStop   = "transactionStop"
)
