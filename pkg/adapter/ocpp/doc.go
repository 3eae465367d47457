/*
Package ocpp implements the OCPP 1.6 / 2.0.1 charge point adapter.

Frames are OCPP-J JSON arrays over a WebSocket-class transport: calls
[2, id, action, payload], results [3, id, payload], errors
[4, id, code, description, details]. Outgoing calls are correlated
through a pending table with a 30 s timeout; a timed-out entry is
purged and the caller observes a Timeout error. When the wire drops,
every pending call fails at once and the session reconnects.

The connector table tracks the nine OCPP connector states and at most
one running transaction per connector. StartTransaction requires an
available connector and moves it to Charging; each meter cycle
advances energy, power, and duration and publishes transactionUpdate;
StopTransaction records meterStop and returns the connector to
Available. Peer-originated StatusNotification, MeterValues,
StartTransaction, and StopTransaction calls are handled and
acknowledged with a CallResult; unknown actions get an empty result.

Connect performs the BootNotification handshake; acceptance arms the
Heartbeat (default 300 s) and MeterValues (default 60 s) cycles.

MockTransport is the in-process peer for development mode and tests;
its chaos flag flips random connector statuses to exercise the state
machine.
*/
package ocpp
