package types

import (
	"time"
)

// DeviceType classifies a DER device
type DeviceType string

const (
	DeviceSolarPV        DeviceType = "solar_pv"
	DeviceBatteryStorage DeviceType = "battery_storage"
	DeviceEVCharger      DeviceType = "ev_charger"
	DeviceSmartMeter     DeviceType = "smart_meter"
	DeviceHeatPump       DeviceType = "heat_pump"
	DeviceGateway        DeviceType = "gateway"
)

// Protocol identifies the protocol family an adapter speaks
type Protocol string

const (
	ProtocolModbus  Protocol = "modbus"
	ProtocolOCPP    Protocol = "ocpp"
	ProtocolEEBus   Protocol = "eebus"
	ProtocolTCPIP   Protocol = "tcpip"
	ProtocolGateway Protocol = "gateway"
)

// DeviceStatus is the connectivity status published on status topics
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusError   DeviceStatus = "error"
)

// Device is the registry record for a field device.
// Owned by the Storage capability; the core only reads it.
type Device struct {
	ID         uint64           `json:"id" yaml:"id"`
	Key        string           `json:"deviceId" yaml:"key"` // stable string device-id
	SiteID     uint64           `json:"siteId" yaml:"siteId"`
	Name       string           `json:"name" yaml:"name"`
	Type       DeviceType       `json:"type" yaml:"type"`
	Protocol   Protocol         `json:"protocol" yaml:"protocol"`
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	CreatedAt  time.Time        `json:"createdAt,omitempty" yaml:"-"`
}

// Site groups devices behind one grid connection point
type Site struct {
	ID        uint64    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Address   string    `json:"address,omitempty" yaml:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
}

// ConnectionConfig is the per-device connection descriptor.
// Exactly one protocol-specific section is set, matching Device.Protocol.
type ConnectionConfig struct {
	Mock    bool           `json:"mock,omitempty" yaml:"mock,omitempty"`
	Modbus  *ModbusConfig  `json:"modbus,omitempty" yaml:"modbus,omitempty"`
	OCPP    *OCPPConfig    `json:"ocpp,omitempty" yaml:"ocpp,omitempty"`
	EEBus   *EEBusConfig   `json:"eebus,omitempty" yaml:"eebus,omitempty"`
	TCPIP   *TCPIPConfig   `json:"tcpip,omitempty" yaml:"tcpip,omitempty"`
	Gateway *GatewayConfig `json:"gateway,omitempty" yaml:"gateway,omitempty"`
}

// ModbusConfig configures a Modbus TCP or RTU session
type ModbusConfig struct {
	Host           string           `json:"host,omitempty" yaml:"host,omitempty"`
	Port           int              `json:"port,omitempty" yaml:"port,omitempty"` // default 502
	UnitID         uint8            `json:"unitId" yaml:"unitId"`
	Serial         *SerialConfig    `json:"serial,omitempty" yaml:"serial,omitempty"`
	ScanIntervalMs int              `json:"scanIntervalMs,omitempty" yaml:"scanIntervalMs,omitempty"` // default 5000
	Registers      []ModbusRegister `json:"registers" yaml:"registers"`
}

// SerialConfig holds RTU/ASCII serial line parameters
type SerialConfig struct {
	Device   string `json:"device" yaml:"device"`
	BaudRate int    `json:"baudRate" yaml:"baudRate"`
	Parity   string `json:"parity" yaml:"parity"` // none, even, odd
	DataBits int    `json:"dataBits" yaml:"dataBits"`
	StopBits int    `json:"stopBits" yaml:"stopBits"`
}

// RegisterKind is the Modbus register table a descriptor addresses
type RegisterKind string

const (
	RegisterHolding  RegisterKind = "holding"
	RegisterInput    RegisterKind = "input"
	RegisterCoil     RegisterKind = "coil"
	RegisterDiscrete RegisterKind = "discrete"
)

// DataType is the decoded representation of a register value
type DataType string

const (
	DataInt16   DataType = "int16"
	DataUint16  DataType = "uint16"
	DataInt32   DataType = "int32"
	DataUint32  DataType = "uint32"
	DataFloat32 DataType = "float32"
	DataBool    DataType = "bool"
	DataBuffer  DataType = "buffer"
)

// ByteOrder selects big- or little-endian register decoding
type ByteOrder string

const (
	BigEndian    ByteOrder = "BE"
	LittleEndian ByteOrder = "LE"
)

// Access restricts what the write path may touch
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "read-write"
)

// ModbusRegister describes one register mapping of a device model.
// Canonical, when set, mirrors the decoded value into the named
// canonical telemetry channel (see CanonicalChannels).
type ModbusRegister struct {
	Name      string       `json:"name" yaml:"name"`
	Kind      RegisterKind `json:"type" yaml:"type"`
	Address   uint16       `json:"address" yaml:"address"`
	Length    uint16       `json:"length,omitempty" yaml:"length,omitempty"` // registers; derived from DataType when 0
	DataType  DataType     `json:"dataType" yaml:"dataType"`
	Scale     float64      `json:"scale,omitempty" yaml:"scale,omitempty"` // default 1
	ByteOrder ByteOrder    `json:"byteOrder,omitempty" yaml:"byteOrder,omitempty"`
	Unit      string       `json:"unit,omitempty" yaml:"unit,omitempty"`
	BitOffset int          `json:"bitOffset,omitempty" yaml:"bitOffset,omitempty"`
	Access    Access       `json:"access,omitempty" yaml:"access,omitempty"` // default read
	Canonical string       `json:"canonical,omitempty" yaml:"canonical,omitempty"`
}

// OCPPConfig configures an OCPP charge point session
type OCPPConfig struct {
	Endpoint         string `json:"endpoint" yaml:"endpoint"` // ws(s):// charge point endpoint
	Version          string `json:"version" yaml:"version"`   // "1.6" or "2.0.1"
	Connectors       int    `json:"connectors,omitempty" yaml:"connectors,omitempty"`
	HeartbeatSec     int    `json:"heartbeatSec,omitempty" yaml:"heartbeatSec,omitempty"`         // default 300
	MeterIntervalSec int    `json:"meterIntervalSec,omitempty" yaml:"meterIntervalSec,omitempty"` // default 60
	Vendor           string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Model            string `json:"model,omitempty" yaml:"model,omitempty"`
	SerialNumber     string `json:"serialNumber,omitempty" yaml:"serialNumber,omitempty"`
	FirmwareVersion  string `json:"firmwareVersion,omitempty" yaml:"firmwareVersion,omitempty"`
	Chaos            bool   `json:"chaos,omitempty" yaml:"chaos,omitempty"` // mock only: random connector flips
}

// EEBusConfig configures an EEBus (SHIP) session
type EEBusConfig struct {
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	SKI          string `json:"ski,omitempty" yaml:"ski,omitempty"`                  // peer subject key identifier
	IntervalSec  int    `json:"intervalSec,omitempty" yaml:"intervalSec,omitempty"` // measurement cycle, default 30
	KeepaliveSec int    `json:"keepaliveSec,omitempty" yaml:"keepaliveSec,omitempty"`
}

// TCPIPConfig configures a generic line-delimited JSON device
type TCPIPConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	ScanIntervalMs int    `json:"scanIntervalMs,omitempty" yaml:"scanIntervalMs,omitempty"`
}

// GatewaySubProtocol identifies how children hang off a gateway
type GatewaySubProtocol string

const (
	GatewayModbus GatewaySubProtocol = "modbus_gateway"
	GatewayTCPIP  GatewaySubProtocol = "tcpip_gateway"
	GatewayMBus   GatewaySubProtocol = "mbus_gateway"
	GatewayMQTT   GatewaySubProtocol = "mqtt_gateway"
)

// GatewayConfig configures a composite gateway and its children
type GatewayConfig struct {
	SubProtocol GatewaySubProtocol `json:"subProtocol" yaml:"subProtocol"`
	Host        string             `json:"host" yaml:"host"`
	Port        int                `json:"port" yaml:"port"`
	ProbeSec    int                `json:"probeSec,omitempty" yaml:"probeSec,omitempty"` // default 60
	Children    []ChildDevice      `json:"children" yaml:"children"`
}

// ChildDevice is one device reachable behind a gateway.
// Address is the Modbus unit id for modbus/mbus children and a port
// offset for tcpip children.
type ChildDevice struct {
	Key        string      `json:"deviceId" yaml:"key"`
	Name       string      `json:"name" yaml:"name"`
	Type       DeviceType  `json:"type" yaml:"type"`
	Address    int         `json:"address" yaml:"address"`
	ScanMs     int         `json:"scanMs,omitempty" yaml:"scanMs,omitempty"`
	Datapoints []Datapoint `json:"datapoints" yaml:"datapoints"`
}

// Datapoint is a gateway-level data point mapping, translated into the
// concrete adapter's register descriptors at child creation time.
type Datapoint struct {
	Name      string   `json:"name" yaml:"name"`
	Address   uint16   `json:"address" yaml:"address"`
	DataType  DataType `json:"dataType" yaml:"dataType"`
	Unit      string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Scale     float64  `json:"scale,omitempty" yaml:"scale,omitempty"`
	Access    Access   `json:"access,omitempty" yaml:"access,omitempty"`
	Canonical string   `json:"canonical,omitempty" yaml:"canonical,omitempty"`
}
