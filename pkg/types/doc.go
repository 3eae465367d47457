/*
Package types defines the shared data model for VoltGrid's device
connectivity plane.

The types package has no dependencies on other VoltGrid packages and is
imported by every component. It defines:

  - Device and Site: registry records owned by the Storage capability.
    A Device carries its protocol family plus a ConnectionConfig whose
    protocol-specific section (Modbus, OCPP, EEBus, TCPIP, Gateway)
    matches that family. A device is bound to at most one live adapter
    of the matching family at any moment.

  - Message: the normalized envelope carried on the message bus. Every
    message has messageId, messageType, timestamp and deviceId; the
    body fields depend on the type (status | telemetry | command |
    command_response | event). Telemetry carries parallel readings and
    units maps keyed by channel name.

  - Canonical channels: power, energy, voltage, current, frequency,
    temperature, stateOfCharge. Adapters mirror well-known readings
    into these via declared per-register Canonical mappings, never by
    name heuristics.

  - Register and datapoint descriptors: typed Modbus register mappings
    (kind, address, data type, byte order, scale, access) and the
    gateway-level Datapoint mappings that are translated into them.

  - Error kinds: sentinel errors (ErrTimeout, ErrUnknownRegister,
    ErrInvalidConnector, ...) that components wrap with %w and callers
    classify with errors.Is.

# Usage

	dev := types.Device{
		Key:      "inv-001",
		SiteID:   7,
		Type:     types.DeviceSolarPV,
		Protocol: types.ProtocolModbus,
		Connection: types.ConnectionConfig{
			Modbus: &types.ModbusConfig{
				Host:   "10.0.0.12",
				UnitID: 1,
				Registers: []types.ModbusRegister{
					{Name: "active_power", Kind: types.RegisterHolding,
						Address: 0, DataType: types.DataUint16,
						Canonical: types.ChannelPower, Unit: "W"},
				},
			},
		},
	}
	_ = dev

# See Also

  - pkg/bus for the topic namespace messages travel on
  - pkg/adapter for the session lifecycle that produces them
*/
package types
