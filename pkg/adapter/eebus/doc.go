/*
Package eebus implements the EEBus adapter.

The session speaks SHIP-style JSON frames over WebSocket: connect runs
an init/hello/ready handshake, after which the peer pushes cyclic
measurement frames that are published as telemetry. The session
heartbeat is a keepalive round trip; a missed acknowledgement fails
the session and arms reconnect.

The control surface is deliberately small: setPowerLimit sends a
power cap to the peer and waits for its acknowledgement.

MockPeer is the in-process device for development mode and tests; it
answers the handshake and pushes measurements from a sim profile.
*/
package eebus
