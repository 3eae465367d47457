package modbus

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/types"
)

func meterDevice(scanMs int) types.Device {
	return types.Device{
		ID:       1,
		Key:      "meter-1",
		SiteID:   1,
		Type:     types.DeviceSmartMeter,
		Protocol: types.ProtocolModbus,
		Connection: types.ConnectionConfig{
			Mock: true,
			Modbus: &types.ModbusConfig{
				UnitID:         1,
				ScanIntervalMs: scanMs,
				Registers: []types.ModbusRegister{
					{Name: "power", Kind: types.RegisterHolding, Address: 0, DataType: types.DataUint16, Scale: 1, Unit: "W", Canonical: types.ChannelPower},
					{Name: "energy", Kind: types.RegisterHolding, Address: 2, DataType: types.DataUint32, Scale: 0.1, Unit: "Wh"},
					{Name: "setpoint", Kind: types.RegisterHolding, Address: 10, DataType: types.DataUint16, Scale: 10, Access: types.AccessReadWrite},
					{Name: "enable", Kind: types.RegisterCoil, Address: 0, DataType: types.DataBool, Access: types.AccessReadWrite},
				},
			},
		},
	}
}

func TestScriptedScanEmitsTelemetry(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/meter-1/telemetry")
	require.NoError(t, err)

	a, err := New(meterDevice(20), b)
	require.NoError(t, err)
	defer a.Shutdown()

	mock := a.MockWire()
	require.NotNil(t, mock)
	// power=100, energy raw 0x00010000 → 6553.6 after scale
	mock.Script(
		Frame{0: 100, 2: 0x0001, 3: 0x0000},
		Frame{0: 110, 2: 0x0001, 3: 0x0001},
	)

	require.NoError(t, a.Connect())
	require.NoError(t, a.StartScanning())

	require.True(t, rec.WaitFor(1, time.Second))
	first := rec.Messages()[0].Message
	assert.Equal(t, types.MessageTelemetry, first.MessageType)
	assert.Equal(t, 100.0, first.Readings["power"])
	assert.InDelta(t, 6553.6, first.Readings["energy"], 1e-9)
	assert.Equal(t, "W", first.Units["power"])

	mock.Advance()
	got, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.Readings["power"] == 110
	}, time.Second)
	require.True(t, ok)
	assert.InDelta(t, 6553.7, got.Message.Readings["energy"], 1e-9)
}

func TestScanMirrorsDeclaredCanonicalChannel(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/inv-1/telemetry")
	require.NoError(t, err)

	dev := types.Device{
		Key: "inv-1", SiteID: 1, Type: types.DeviceSolarPV, Protocol: types.ProtocolModbus,
		Connection: types.ConnectionConfig{
			Mock: true,
			Modbus: &types.ModbusConfig{
				UnitID:         1,
				ScanIntervalMs: 20,
				Registers: []types.ModbusRegister{
					{Name: "active_power", Kind: types.RegisterHolding, Address: 0, DataType: types.DataUint16, Canonical: types.ChannelPower},
					{Name: "total_wh", Kind: types.RegisterHolding, Address: 1, DataType: types.DataUint16},
				},
			},
		},
	}
	a, err := New(dev, b)
	require.NoError(t, err)
	defer a.Shutdown()

	a.MockWire().SetHolding(0, 450)
	a.MockWire().SetHolding(1, 77)
	require.NoError(t, a.Connect())
	require.NoError(t, a.StartScanning())

	require.True(t, rec.WaitFor(1, time.Second))
	msg := rec.Messages()[0].Message
	assert.Equal(t, 450.0, msg.Readings["active_power"])
	assert.Equal(t, 450.0, msg.Readings[types.ChannelPower])
	assert.Equal(t, "W", msg.Units[types.ChannelPower])
	// total_wh declares no canonical mapping; nothing is guessed from
	// register names
	_, mirrored := msg.Readings[types.ChannelEnergy]
	assert.False(t, mirrored)
}

func TestWriteRegisterValidation(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, err := New(meterDevice(0), b)
	require.NoError(t, err)
	defer a.Shutdown()
	require.NoError(t, a.Connect())

	err = a.WriteRegister("nope", 1)
	assert.ErrorIs(t, err, types.ErrUnknownRegister)

	err = a.WriteRegister("power", 1)
	assert.ErrorIs(t, err, types.ErrReadOnlyRegister)
}

func TestWriteRegisterInvertsScale(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, err := New(meterDevice(0), b)
	require.NoError(t, err)
	defer a.Shutdown()
	require.NoError(t, a.Connect())

	// setpoint has scale 10: writing 500 stores raw 50
	require.NoError(t, a.WriteRegister("setpoint", 500))
	assert.Equal(t, uint16(50), a.MockWire().Holding(10))
}

func TestWriteCoil(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, err := New(meterDevice(0), b)
	require.NoError(t, err)
	defer a.Shutdown()
	require.NoError(t, a.Connect())

	require.NoError(t, a.WriteRegister("enable", 1))
	assert.True(t, a.MockWire().Coil(0))
	require.NoError(t, a.WriteRegister("enable", 0))
	assert.False(t, a.MockWire().Coil(0))
}

func TestWriteCommandOverSession(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, err := New(meterDevice(0), b)
	require.NoError(t, err)
	defer a.Shutdown()
	require.NoError(t, a.Connect())

	msg, err := a.ExecuteCommand("writeRegister", map[string]any{"name": "setpoint", "value": 500.0})
	require.NoError(t, err)
	assert.True(t, msg.Success)
	assert.Equal(t, uint16(50), a.MockWire().Holding(10))

	msg, err = a.ExecuteCommand("writeRegister", map[string]any{"name": "power", "value": 1.0})
	require.Error(t, err)
	assert.False(t, msg.Success)
}

func TestReadFailureClassification(t *testing.T) {
	assert.True(t, IsReconnectError(types.ErrNotConnected))
	assert.True(t, IsReconnectError(io.EOF))
	assert.True(t, IsReconnectError(errors.New("Port is closed")))
	assert.True(t, IsReconnectError(errors.New("Connection timed out")))
	assert.True(t, IsReconnectError(errors.New("read tcp: connection reset by peer")))
	assert.False(t, IsReconnectError(nil))
	assert.False(t, IsReconnectError(types.ErrUnknownRegister))
	assert.False(t, IsReconnectError(errors.New("modbus exception 0x02")))
}

func TestWireFailureFailsSessionAndRecovers(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/meter-1/status")
	require.NoError(t, err)

	dev := meterDevice(10)
	a, err := New(dev, b)
	require.NoError(t, err)
	defer a.Shutdown()
	a.SetBackoff(adapter.Backoff{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, MaxAttempts: 5})

	mock := a.MockWire()
	mock.SetHolding(0, 100)
	require.NoError(t, a.Connect())
	require.NoError(t, a.StartScanning())

	mock.FailReads(io.EOF)
	_, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.Status == types.StatusError
	}, 2*time.Second)
	require.True(t, ok, "wire failure should publish status=error")

	mock.FailReads(nil)
	require.Eventually(t, func() bool {
		return a.State() == adapter.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewRejectsMissingConfig(t *testing.T) {
	b := bus.New()
	defer b.Close()

	_, err := New(types.Device{Key: "x", Connection: types.ConnectionConfig{}}, b)
	assert.Error(t, err)
}
