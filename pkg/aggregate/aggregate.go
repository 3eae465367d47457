package aggregate

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/registry"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// DefaultFlushInterval is how often per-site rollups are published
const DefaultFlushInterval = 15 * time.Second

// deviceSample is the latest telemetry seen from one device
type deviceSample struct {
	power    float64
	hasPower bool
	energy   float64
	seenAt   time.Time
}

// Aggregator folds per-device telemetry into per-site energy rollups.
// It keeps the latest power and energy reading per device, resolves
// each device to its site through the registry, and on every flush
// publishes one message per dirty site on sites/<id>/energy/readings
// with the site-wide sums.
type Aggregator struct {
	bus      *bus.Bus
	registry *registry.Registry
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	sites map[uint64]map[string]deviceSample
	dirty map[uint64]bool

	subs   []*bus.Subscription
	stopCh chan struct{}
	once   sync.Once
}

// New creates an aggregator; interval <= 0 takes DefaultFlushInterval
func New(b *bus.Bus, reg *registry.Registry, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Aggregator{
		bus:      b,
		registry: reg,
		interval: interval,
		logger:   log.WithComponent("aggregate"),
		sites:    make(map[uint64]map[string]deviceSample),
		dirty:    make(map[uint64]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to device and gateway telemetry and begins the
// flush loop
func (a *Aggregator) Start() error {
	for _, filter := range []string{"devices/+/telemetry", "gateways/+/telemetry"} {
		sub, err := a.bus.Subscribe(filter, a.onTelemetry)
		if err != nil {
			return err
		}
		a.subs = append(a.subs, sub)
	}
	go a.flushLoop()
	return nil
}

func (a *Aggregator) onTelemetry(topic string, msg *types.Message) {
	key, ok := bus.DeviceKeyFromTopic(topic)
	if !ok || msg == nil {
		return
	}
	siteID, err := a.registry.SiteOf(key)
	if err != nil {
		// Telemetry from a device the registry does not know is
		// dropped rather than guessed into a site
		a.logger.Debug().Str("device_id", key).Err(err).Msg("Unresolvable telemetry")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	devices := a.sites[siteID]
	if devices == nil {
		devices = make(map[string]deviceSample)
		a.sites[siteID] = devices
	}
	sample := devices[key]
	if v, ok := msg.Readings[types.ChannelPower]; ok {
		sample.power = v
		sample.hasPower = true
	}
	if v, ok := msg.Readings[types.ChannelEnergy]; ok {
		sample.energy = v
	}
	sample.seenAt = time.Now()
	devices[key] = sample
	a.dirty[siteID] = true
}

func (a *Aggregator) flushLoop() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Flush()
		case <-a.stopCh:
			return
		}
	}
}

// Flush publishes a rollup for every site with new telemetry since
// the previous flush
func (a *Aggregator) Flush() {
	type rollup struct {
		siteID  uint64
		power   float64
		energy  float64
		devices int
	}

	a.mu.Lock()
	var rollups []rollup
	for siteID := range a.dirty {
		r := rollup{siteID: siteID}
		for _, sample := range a.sites[siteID] {
			if sample.hasPower {
				r.power += sample.power
			}
			r.energy += sample.energy
			r.devices++
		}
		rollups = append(rollups, r)
	}
	a.dirty = make(map[uint64]bool)
	a.mu.Unlock()

	for _, r := range rollups {
		a.bus.Publish(bus.SiteEnergyTopic(r.siteID), &types.Message{
			MessageID:   uuid.NewString(),
			MessageType: types.MessageTelemetry,
			Timestamp:   time.Now().UTC(),
			Readings: map[string]float64{
				types.ChannelPower:  r.power,
				types.ChannelEnergy: r.energy,
			},
			Units: map[string]string{
				types.ChannelPower:  types.CanonicalChannels[types.ChannelPower],
				types.ChannelEnergy: types.CanonicalChannels[types.ChannelEnergy],
			},
			Metadata: map[string]string{"devices": strconv.Itoa(r.devices)},
		})
	}
}

// Close stops the flush loop and detaches from the bus; pending state
// is not flushed
func (a *Aggregator) Close() {
	a.once.Do(func() { close(a.stopCh) })
	for _, sub := range a.subs {
		a.bus.Unsubscribe(sub)
	}
}
