/*
Package bus provides the in-process publish/subscribe fabric for
VoltGrid's connectivity plane.

Every protocol adapter publishes its normalized status, telemetry and
command-response messages here, and every consumer (the push gateway,
the site aggregator, optimization and storage ingesters) subscribes
here. The bus is the single integration surface between the core and
everything outside it.

# Architecture

	Publisher (adapter goroutine)
	    | Publish(topic, msg)
	    v
	+----------------------------------------------+
	| Subscription table (RWMutex)                 |
	|   filter --match--> per-subscription queue   |
	+----------------------------------------------+
	    | bounded queue, drop-oldest telemetry
	    v
	Dispatch goroutine (one per subscription)
	    | panic isolation
	    v
	Handler(topic, msg)

# Topic namespace

	devices/<id>/{status|telemetry|commands|commands/response}
	gateways/<id>/{status|telemetry|commands}
	sites/<id>/energy/readings
	vpp/events/<eventId>[/responses/<siteId>]

Subscription filters may contain `+` (exactly one level) and a
trailing `#` (that level and everything below). `devices/+/telemetry`
matches `devices/42/telemetry` but not `devices/42/status` nor
`gateways/1/telemetry`; `a/#` matches `a`, `a/b` and `a/b/c`.

# Delivery semantics

  - Per (publisher, subscription) pair: FIFO. A subscriber sees one
    adapter's messages in emission order.
  - Across publishers: no ordering guarantee.
  - Handlers run on the subscription's own goroutine. Publish enqueues
    and returns; a slow or panicking handler never delays the
    publisher or other subscriptions.
  - Each subscription's queue is bounded for telemetry: when full, the
    oldest queued telemetry message is shed (drop-oldest). Status,
    command and command_response messages are never dropped.
  - Delivery is at-most-once and in-process only; nothing persists.

# Usage

	b := bus.New()
	defer b.Close()

	sub, _ := b.Subscribe("devices/+/telemetry", func(topic string, msg *types.Message) {
		fmt.Println(topic, msg.Readings[types.ChannelPower])
	})
	defer b.Unsubscribe(sub)

	_ = b.Publish(bus.DeviceTelemetryTopic("inv-001"), &types.Message{
		MessageType: types.MessageTelemetry,
		DeviceID:    "inv-001",
		Readings:    map[string]float64{types.ChannelPower: 2450},
		Units:       map[string]string{types.ChannelPower: "W"},
	})

# Development mode

Recorder is the in-memory broker tap used by the mock harness and the
test suites: it captures matched traffic and feeds external listeners,
so adapters can be exercised end to end without a real broker.

# Integration Points

  - pkg/adapter: publishes status/telemetry/events, consumes commands
  - pkg/push: fans matching messages out to WebSocket clients
  - pkg/aggregate: folds device telemetry into site energy readings
  - pkg/metrics: counts published and dropped messages
*/
package bus
