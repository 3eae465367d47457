package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// Profile generates deterministic-plus-jittered readings for one
// simulated device. The waveform depends on the device type and the
// wall clock; jitter depends only on the seed, so a seeded profile
// replays identically.
type Profile struct {
	deviceType types.DeviceType

	mu       sync.Mutex
	rng      *rand.Rand
	last     time.Time
	energyWh float64
	soc      float64
}

// NewProfile creates a seeded profile for a device type
func NewProfile(deviceType types.DeviceType, seed int64) *Profile {
	return &Profile{
		deviceType: deviceType,
		rng:        rand.New(rand.NewSource(seed)),
		soc:        55,
	}
}

// jitter returns v disturbed by at most ±frac
func (p *Profile) jitter(v, frac float64) float64 {
	return v * (1 + frac*(2*p.rng.Float64()-1))
}

// Power returns the instantaneous power in W at the given time.
// Generation is positive for solar, negative battery power means
// charging.
func (p *Profile) Power(now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.power(now)
}

func (p *Profile) power(now time.Time) float64 {
	hour := float64(now.Hour()) + float64(now.Minute())/60

	switch p.deviceType {
	case types.DeviceSolarPV:
		// Daylight bell between 06:00 and 20:00, 5 kW peak
		if hour < 6 || hour > 20 {
			return 0
		}
		frac := (hour - 6) / 14
		return p.jitter(5000*math.Pow(math.Sin(math.Pi*frac), 2), 0.10)

	case types.DeviceBatteryStorage:
		// Charge midday, discharge evening
		switch {
		case hour >= 10 && hour < 16:
			return p.jitter(-2500, 0.15)
		case hour >= 18 && hour < 23:
			return p.jitter(3000, 0.15)
		default:
			return p.jitter(50, 0.5)
		}

	case types.DeviceEVCharger:
		// Single-phase 32 A plateau while charging
		return p.jitter(7360, 0.05)

	case types.DeviceHeatPump:
		// Compressor duty cycle
		if int(hour*2)%3 == 0 {
			return p.jitter(400, 0.2)
		}
		return p.jitter(2200, 0.1)

	default: // smart meter and everything else: household baseline
		return p.jitter(650, 0.3)
	}
}

// Readings returns a full canonical snapshot at the given time,
// advancing the accumulated energy counter by the elapsed interval.
func (p *Profile) Readings(now time.Time) (map[string]float64, map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	power := p.power(now)
	if !p.last.IsZero() {
		elapsed := now.Sub(p.last).Hours()
		p.energyWh += math.Abs(power) * elapsed
	}
	p.last = now

	readings := map[string]float64{
		types.ChannelPower:     round1(power),
		types.ChannelEnergy:    round1(p.energyWh),
		types.ChannelVoltage:   round1(p.jitter(230, 0.02)),
		types.ChannelFrequency: round1(p.jitter(50, 0.002)),
	}
	units := map[string]string{
		types.ChannelPower:     "W",
		types.ChannelEnergy:    "Wh",
		types.ChannelVoltage:   "V",
		types.ChannelFrequency: "Hz",
	}

	if power != 0 {
		readings[types.ChannelCurrent] = round1(math.Abs(power) / 230)
		units[types.ChannelCurrent] = "A"
	}

	switch p.deviceType {
	case types.DeviceBatteryStorage:
		// SoC follows the power sign: discharge drains, charge fills
		p.soc -= power / 5000 * 0.5
		p.soc = math.Max(5, math.Min(100, p.soc))
		readings[types.ChannelStateOfCharge] = round1(p.soc)
		units[types.ChannelStateOfCharge] = "%"
		readings[types.ChannelTemperature] = round1(p.jitter(28, 0.1))
		units[types.ChannelTemperature] = "°C"
	case types.DeviceSolarPV, types.DeviceHeatPump:
		readings[types.ChannelTemperature] = round1(p.jitter(41, 0.1))
		units[types.ChannelTemperature] = "°C"
	}

	return readings, units
}

// EnergyWh returns the accumulated energy counter
func (p *Profile) EnergyWh() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.energyWh
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
