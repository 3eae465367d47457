/*
Package gateway implements the composite gateway adapter.

A gateway fronts N child devices over one of the sub-protocols
modbus_gateway, tcpip_gateway, mbus_gateway, or mqtt_gateway. On
Connect the upstream session is established and a child adapter is
instantiated per configured child; each child is a full session
publishing on its own device topics. Child datapoint mappings are
translated into the concrete adapter's descriptors at creation time:
Modbus and M-Bus children use the child address as the unit id on the
gateway's wire, TCP and MQTT children use it as a port offset.

Failure is isolated per child. A child in error keeps its own
reconnect cycle and is additionally retried by the gateway's
heartbeat probe; siblings are unaffected. Each probe also publishes a
composite status message enumerating per-child connectivity.

MQTT children ride the tcpip wire; a native MQTT client transport is
a possible followup if broker-attached gateways show up in fleets.
*/
package gateway
