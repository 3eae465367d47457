package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	BusMessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltgrid_bus_messages_published_total",
			Help: "Total messages published on the bus by message type",
		},
		[]string{"type"},
	)

	BusMessagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voltgrid_bus_messages_dropped_total",
			Help: "Telemetry messages shed from full subscriber queues",
		},
	)

	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voltgrid_bus_subscribers",
			Help: "Current number of bus subscriptions",
		},
	)

	// Adapter metrics
	AdaptersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voltgrid_adapters",
			Help: "Adapter sessions by protocol family and state",
		},
		[]string{"protocol", "state"},
	)

	AdapterReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltgrid_adapter_reconnects_total",
			Help: "Reconnect attempts by protocol family",
		},
		[]string{"protocol"},
	)

	AdapterHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltgrid_adapter_heartbeats_total",
			Help: "Heartbeats by protocol family and outcome",
		},
		[]string{"protocol", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voltgrid_command_duration_seconds",
			Help:    "ExecuteCommand latency by protocol family",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	// Push gateway metrics
	PushConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voltgrid_push_connections",
			Help: "Currently connected push clients",
		},
	)

	PushMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voltgrid_push_messages_sent_total",
			Help: "Frames sent to push clients by frame type",
		},
		[]string{"type"},
	)

	PushSendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voltgrid_push_send_errors_total",
			Help: "Push client send failures (connection is terminated)",
		},
	)

	// OCPP metrics
	OCPPCallsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voltgrid_ocpp_calls_pending",
			Help: "Outstanding OCPP calls awaiting a result",
		},
	)

	OCPPCallTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voltgrid_ocpp_call_timeouts_total",
			Help: "OCPP calls purged after the response timeout",
		},
	)

	TransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voltgrid_ocpp_transactions_active",
			Help: "Charging transactions currently running",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BusMessagesPublished)
	prometheus.MustRegister(BusMessagesDropped)
	prometheus.MustRegister(BusSubscribers)
	prometheus.MustRegister(AdaptersByState)
	prometheus.MustRegister(AdapterReconnects)
	prometheus.MustRegister(AdapterHeartbeats)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(PushConnections)
	prometheus.MustRegister(PushMessagesSent)
	prometheus.MustRegister(PushSendErrors)
	prometheus.MustRegister(OCPPCallsPending)
	prometheus.MustRegister(OCPPCallTimeouts)
	prometheus.MustRegister(TransactionsActive)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and records it into a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into the histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}
