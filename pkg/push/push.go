package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/metrics"
	"github.com/voltgrid/voltgrid/pkg/registry"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// Outbound envelope frame types
const (
	FrameConnected      = "connected"
	FrameSubscribed     = "subscribed"
	FrameUnsubscribed   = "unsubscribed"
	FrameEnergyReading  = "energyReading"
	FrameDeviceReading  = "deviceReading"
	FrameOptimization   = "optimizationRecommendation"
	FrameDeviceCommand  = "deviceCommand"
	FrameError          = "error"
	FramePong           = "pong"
)

// Envelope is the outbound frame shape
type Envelope struct {
	Type         string    `json:"type"`
	Data         any       `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connectionId,omitempty"`
	SiteID       *uint64   `json:"siteId,omitempty"`
	DeviceID     string    `json:"deviceId,omitempty"`
}

// controlFrame is the inbound client frame shape
type controlFrame struct {
	Type     string  `json:"type"`
	SiteID   *uint64 `json:"siteId,omitempty"`
	DeviceID string  `json:"deviceId,omitempty"`
}

// Config tunes the gateway's liveness machinery; zero values take the
// production defaults
type Config struct {
	PingInterval  time.Duration // default 30 s; a client missing two pings is terminated
	SweepInterval time.Duration // default 60 s; inactivity beyond two sweeps is terminated
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	return c
}

// Gateway is the real-time push surface: long-lived WebSocket
// connections at /ws, each holding a subscription scope (site id
// and/or device id). It subscribes to the bus once per frame type and
// fans matching messages out to in-scope connections.
type Gateway struct {
	bus      *bus.Bus
	registry *registry.Registry
	cfg      Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	subs   []*bus.Subscription
	stopCh chan struct{}
	once   sync.Once
}

// New creates a push gateway over the bus and device registry
func New(b *bus.Bus, reg *registry.Registry, cfg Config) *Gateway {
	return &Gateway{
		bus:      b,
		registry: reg,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  log.WithComponent("push"),
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
}

// Start wires the bus subscriptions and the liveness loops
func (g *Gateway) Start() error {
	type binding struct {
		filter string
		frame  string
	}
	bindings := []binding{
		{"devices/+/telemetry", FrameDeviceReading},
		{"gateways/+/telemetry", FrameDeviceReading},
		{"sites/+/energy/readings", FrameEnergyReading},
		{"sites/+/optimization", FrameOptimization},
		{"devices/+/commands", FrameDeviceCommand},
	}
	for _, bd := range bindings {
		frame := bd.frame
		sub, err := g.bus.Subscribe(bd.filter, func(topic string, msg *types.Message) {
			g.fanout(frame, topic, msg)
		})
		if err != nil {
			return err
		}
		g.subs = append(g.subs, sub)
	}

	// Status topics carry online/offline/error transitions; only the
	// error ones are pushed, as error envelopes to scope-matched
	// clients
	for _, filter := range []string{"devices/+/status", "gateways/+/status"} {
		sub, err := g.bus.Subscribe(filter, func(topic string, msg *types.Message) {
			if msg.Status != types.StatusError {
				return
			}
			g.fanout(FrameError, topic, msg)
		})
		if err != nil {
			return err
		}
		g.subs = append(g.subs, sub)
	}

	go g.pingLoop()
	go g.sweepLoop()
	return nil
}

// Handler returns the /ws upgrade handler
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.serveWS)
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn)
	g.mu.Lock()
	g.clients[c.id] = c
	count := len(g.clients)
	g.mu.Unlock()
	metrics.PushConnections.Set(float64(count))
	g.logger.Info().Str("connection_id", c.id).Int("connections", count).Msg("Client connected")

	g.send(c, Envelope{Type: FrameConnected, ConnectionID: c.id, Timestamp: time.Now().UTC()})
	go g.readLoop(c)
}

// readLoop consumes control frames until the connection dies
func (g *Gateway) readLoop(c *client) {
	defer g.terminate(c, "read loop ended")
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.send(c, Envelope{Type: FrameError, Data: "unparseable frame", Timestamp: time.Now().UTC()})
			continue
		}
		g.handleControl(c, frame)
	}
}

func (g *Gateway) handleControl(c *client, frame controlFrame) {
	now := time.Now().UTC()
	switch frame.Type {
	case "subscribe":
		c.subscribe(frame.SiteID, frame.DeviceID)
		siteID, deviceID := c.scope()
		g.send(c, Envelope{Type: FrameSubscribed, SiteID: siteID, DeviceID: deviceID, Timestamp: now})
	case "unsubscribe":
		c.unsubscribe(frame.SiteID, frame.DeviceID)
		siteID, deviceID := c.scope()
		g.send(c, Envelope{Type: FrameUnsubscribed, SiteID: siteID, DeviceID: deviceID, Timestamp: now})
	case "ping":
		g.send(c, Envelope{Type: FramePong, Timestamp: now})
	default:
		g.send(c, Envelope{Type: FrameError, Data: "unknown frame type", Timestamp: now})
	}
}

// fanout forwards one bus message to every in-scope connection
func (g *Gateway) fanout(frame, topic string, msg *types.Message) {
	siteID, haveSite := bus.SiteIDFromTopic(topic)
	deviceKey, haveDevice := bus.DeviceKeyFromTopic(topic)
	if haveDevice && !haveSite {
		// Device-scoped events cross-check against the registry so
		// site subscribers see their devices' traffic
		if id, err := g.registry.SiteOf(deviceKey); err == nil {
			siteID, haveSite = id, true
		}
	}

	env := Envelope{Type: frame, Data: msg, Timestamp: time.Now().UTC()}
	for _, c := range g.snapshot() {
		if c.inScope(siteID, haveSite, deviceKey) {
			g.send(c, env)
		}
	}
}

// send marshals and writes one envelope; a failed write terminates
// the connection but never affects others
func (g *Gateway) send(c *client, env Envelope) {
	if err := c.write(env); err != nil {
		metrics.PushSendErrors.Inc()
		g.terminate(c, "send failed")
		return
	}
	metrics.PushMessagesSent.WithLabelValues(env.Type).Inc()
}

func (g *Gateway) snapshot() []*client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		out = append(out, c)
	}
	return out
}

// terminate removes a client and closes its connection; safe to call
// multiple times
func (g *Gateway) terminate(c *client, reason string) {
	g.mu.Lock()
	_, present := g.clients[c.id]
	delete(g.clients, c.id)
	count := len(g.clients)
	g.mu.Unlock()

	c.close()
	if present {
		metrics.PushConnections.Set(float64(count))
		g.logger.Info().Str("connection_id", c.id).Str("reason", reason).Msg("Client terminated")
	}
}

// pingLoop pings every client each interval; a client that missed the
// previous ping is terminated
func (g *Gateway) pingLoop() {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, c := range g.snapshot() {
				if c.missedPing() {
					g.terminate(c, "ping timeout")
					continue
				}
				if err := c.ping(); err != nil {
					g.terminate(c, "ping failed")
				}
			}
		case <-g.stopCh:
			return
		}
	}
}

// sweepLoop drops connections idle for more than two sweep intervals
func (g *Gateway) sweepLoop() {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * g.cfg.SweepInterval)
			for _, c := range g.snapshot() {
				if c.lastActivityBefore(cutoff) {
					g.terminate(c, "inactivity sweep")
				}
			}
		case <-g.stopCh:
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Close terminates every client and detaches from the bus
func (g *Gateway) Close() {
	g.once.Do(func() { close(g.stopCh) })
	for _, sub := range g.subs {
		g.bus.Unsubscribe(sub)
	}
	for _, c := range g.snapshot() {
		g.terminate(c, "gateway closing")
	}
}
