/*
Package adapter defines the protocol adapter contract and the base
session every protocol implementation builds on.

An adapter is a long-lived per-device session owning one device's wire
connection. It normalizes whatever the wire speaks into the shared
message schema and publishes on the bus; commands flow the other way,
from the bus into the protocol.

Lifecycle

Every session runs the same state machine:

	disconnected -> connecting -> connected
	                    |             |
	                    v             v
	                  error <---------+
	                    |
	                    v
	            (reconnect timer)

Connect failures and mid-session wire errors land in the error state
and arm a reconnect timer with exponential backoff (5 s doubling to a
60 s cap, ±20% jitter). The session never gives up: past the attempt
limit it keeps retrying at the cap. A successful connect resets the
attempt counter. Shutdown is terminal; after it returns the session
holds no timers, no wire, no subscriptions, and publishes nothing.

In any non-terminal state the session owns at most one timer: the
heartbeat timer while connected, the reconnect timer while in error,
none otherwise.

Structure

Session implements the generic half of the Adapter interface (state
machine, timers, backoff, command dispatch, bus publishing) and
delegates the protocol half through Hooks (Dial, Close, Probe, Scan,
Exec). The protocol subpackages (modbus, ocpp, eebus, tcpip, gateway)
embed Session and supply their Hooks; each also carries a mock
transport driven by pkg/sim so the full machine runs without field
hardware.

Usage:

	sess, err := adapter.NewSession(adapter.Config{
		Device:   dev,
		Bus:      msgBus,
		Protocol: types.ProtocolModbus,
		Heartbeat: 30 * time.Second,
		Hooks:    hooks,
	})
	if err != nil {
		return err
	}
	if err := sess.Connect(); err != nil {
		// reconnect is already scheduled
	}
*/
package adapter
