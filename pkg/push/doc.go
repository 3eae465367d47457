/*
Package push is the WebSocket push gateway.

Clients connect at /ws and immediately receive a connected frame
carrying their connection id. They then scope themselves with
subscribe/unsubscribe control frames naming a site id, a device id, or
both; an unscoped connection receives nothing. The gateway holds one
bus subscription per outbound frame type and fans matching messages
out per connection:

	devices/+/telemetry, gateways/+/telemetry -> deviceReading
	sites/+/energy/readings                   -> energyReading
	sites/+/optimization                      -> optimizationRecommendation
	devices/+/commands                        -> deviceCommand
	devices/+/status, gateways/+/status       -> error (status=error only)

Device-topic messages are resolved to their site through the registry
so site subscribers see their devices' traffic without subscribing to
each device.

Liveness is two-layered: a WebSocket-level ping each PingInterval
terminates any connection that left the previous ping unanswered, and
a sweep each SweepInterval removes connections idle for more than two
intervals. A failed write terminates only that connection.
*/
package push
