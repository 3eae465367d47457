package tcpip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/types"
)

func genericDevice() types.Device {
	return types.Device{
		ID:       1,
		Key:      "gen-1",
		SiteID:   1,
		Type:     types.DeviceSmartMeter,
		Protocol: types.ProtocolTCPIP,
		Connection: types.ConnectionConfig{
			Mock: true,
			TCPIP: &types.TCPIPConfig{
				Host:           "127.0.0.1",
				Port:           9009,
				ScanIntervalMs: 20,
			},
		},
	}
}

func TestPollPublishesTelemetry(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/gen-1/telemetry")
	require.NoError(t, err)

	a, err := New(genericDevice(), b)
	require.NoError(t, err)
	defer a.Shutdown()

	require.NoError(t, a.Connect())
	require.NoError(t, a.StartScanning())

	got, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.MessageType == types.MessageTelemetry
	}, time.Second)
	require.True(t, ok)
	assert.Contains(t, got.Message.Readings, types.ChannelPower)
	assert.Equal(t, types.ProtocolTCPIP, got.Message.Protocol)
}

func TestCommandForwardedToDevice(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, err := New(genericDevice(), b)
	require.NoError(t, err)
	defer a.Shutdown()
	require.NoError(t, a.Connect())

	msg, err := a.ExecuteCommand("setMode", map[string]any{"mode": "eco"})
	require.NoError(t, err)
	assert.True(t, msg.Success)
	assert.Equal(t, true, msg.Result["applied"])

	commands := a.MockConn().Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "setMode", commands[0].Name)
	assert.Equal(t, "eco", commands[0].Params["mode"])
}

func TestRequestFailureFailsSessionAndRecovers(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, err := New(genericDevice(), b)
	require.NoError(t, err)
	defer a.Shutdown()
	a.SetBackoff(adapter.Backoff{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, MaxAttempts: 5})

	require.NoError(t, a.Connect())
	require.NoError(t, a.StartScanning())

	a.MockConn().FailRequests(types.ErrNotConnected)
	require.Eventually(t, func() bool {
		return a.State() == adapter.StateError || a.State() == adapter.StateConnecting
	}, time.Second, 5*time.Millisecond)

	a.MockConn().FailRequests(nil)
	require.Eventually(t, func() bool {
		return a.State() == adapter.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}
