/*
Package modbus implements the Modbus protocol adapter.

The adapter polls a per-device register map on a scan interval and
publishes one telemetry message per scan. Register descriptors carry
the table kind (holding, input, coil, discrete), address, data type,
byte order, scale, and an optional canonical channel the decoded value
is mirrored into. Decode failures skip the register and the scan
continues; wire failures fail the session and arm reconnect.

Writes go through WriteRegister, which rejects unknown and read-only
registers, applies the inverse scale, and encodes into one or two
16-bit registers. The bus command surface exposes writeRegister and
readRegister.

Two transports implement Wire: TCPWire speaks Modbus TCP with MBAP
framing, MockWire is the in-memory image used by development mode and
the tests. Serial RTU configs are accepted by the schema but have no
transport in this build.
*/
package modbus
