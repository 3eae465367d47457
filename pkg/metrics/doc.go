/*
Package metrics provides Prometheus instrumentation for VoltGrid.

All collectors are package-level and registered once in init(), the
serve command exposes them at /metrics via Handler(). The Timer helper
wraps the start/observe pattern for histograms.

# Collectors

Bus:
  - voltgrid_bus_messages_published_total{type}
  - voltgrid_bus_messages_dropped_total
  - voltgrid_bus_subscribers

Adapters:
  - voltgrid_adapters{protocol,state}
  - voltgrid_adapter_reconnects_total{protocol}
  - voltgrid_adapter_heartbeats_total{protocol,outcome}
  - voltgrid_command_duration_seconds{protocol}

Push gateway:
  - voltgrid_push_connections
  - voltgrid_push_messages_sent_total{type}
  - voltgrid_push_send_errors_total

OCPP:
  - voltgrid_ocpp_calls_pending
  - voltgrid_ocpp_call_timeouts_total
  - voltgrid_ocpp_transactions_active

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(
		metrics.CommandDuration.WithLabelValues("modbus"))

	metrics.AdapterReconnects.WithLabelValues("ocpp").Inc()

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
*/
package metrics
