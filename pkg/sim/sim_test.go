package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/types"
)

func TestSeededProfileIsDeterministic(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	a := NewProfile(types.DeviceSolarPV, 42)
	b := NewProfile(types.DeviceSolarPV, 42)

	ra, _ := a.Readings(now)
	rb, _ := b.Readings(now)
	assert.Equal(t, ra, rb)
}

func TestSolarNightIsZero(t *testing.T) {
	p := NewProfile(types.DeviceSolarPV, 1)
	night := time.Date(2026, 6, 15, 2, 0, 0, 0, time.UTC)
	assert.Zero(t, p.Power(night))

	noon := time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)
	assert.Greater(t, p.Power(noon), 1000.0)
}

func TestEnergyAccumulates(t *testing.T) {
	p := NewProfile(types.DeviceEVCharger, 1)
	start := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	_, _ = p.Readings(start)
	first := p.EnergyWh()
	_, _ = p.Readings(start.Add(time.Hour))
	second := p.EnergyWh()

	require.Greater(t, second, first)
	// One hour at ~7.36 kW accumulates roughly that much energy
	assert.InDelta(t, 7360, second-first, 7360*0.1)
}

func TestBatterySnapshotChannels(t *testing.T) {
	p := NewProfile(types.DeviceBatteryStorage, 9)
	readings, units := p.Readings(time.Date(2026, 6, 15, 19, 0, 0, 0, time.UTC))

	assert.Contains(t, readings, types.ChannelStateOfCharge)
	assert.Equal(t, "%", units[types.ChannelStateOfCharge])
	assert.Contains(t, readings, types.ChannelPower)
	assert.Equal(t, "W", units[types.ChannelPower])
}
