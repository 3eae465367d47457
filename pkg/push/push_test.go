package push

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/registry"
	"github.com/voltgrid/voltgrid/pkg/storage"
	"github.com/voltgrid/voltgrid/pkg/types"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sites := []types.Site{
		{ID: 7, Name: "Plant North"},
		{ID: 8, Name: "Plant South"},
	}
	devices := []types.Device{
		{Key: "dev-7", SiteID: 7, Type: types.DeviceBatteryStorage, Protocol: types.ProtocolModbus},
		{Key: "dev-8", SiteID: 8, Type: types.DeviceBatteryStorage, Protocol: types.ProtocolModbus},
	}
	require.NoError(t, store.Seed(sites, devices))
	return registry.New(store)
}

func testGateway(t *testing.T, cfg Config) (*Gateway, *bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)

	g := New(b, testRegistry(t), cfg)
	require.NoError(t, g.Start())
	t.Cleanup(g.Close)

	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return g, b, srv
}

func dialPush(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func subscribeSite(t *testing.T, conn *websocket.Conn, siteID uint64) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "siteId": siteID}))
	env := readEnvelope(t, conn)
	require.Equal(t, FrameSubscribed, env.Type)
	require.NotNil(t, env.SiteID)
	require.Equal(t, siteID, *env.SiteID)
}

func TestConnectedFrameIsSentFirst(t *testing.T) {
	_, _, srv := testGateway(t, Config{})
	conn := dialPush(t, srv)

	env := readEnvelope(t, conn)
	assert.Equal(t, FrameConnected, env.Type)
	assert.NotEmpty(t, env.ConnectionID)
	assert.False(t, env.Timestamp.IsZero())
}

func TestSubscribeScopesSiteFanout(t *testing.T) {
	_, b, srv := testGateway(t, Config{})

	connA := dialPush(t, srv)
	connB := dialPush(t, srv)
	readEnvelope(t, connA) // connected
	readEnvelope(t, connB)

	subscribeSite(t, connA, 7)
	subscribeSite(t, connB, 8)

	b.Publish(bus.SiteEnergyTopic(7), &types.Message{
		MessageType: types.MessageTelemetry,
		DeviceID:    "dev-7",
		Readings:    map[string]float64{"power": 1500},
	})

	env := readEnvelope(t, connA)
	assert.Equal(t, FrameEnergyReading, env.Type)

	// B is scoped to site 8 and must see nothing
	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var stray Envelope
	assert.Error(t, connB.ReadJSON(&stray))
}

func TestDeviceTelemetryReachesSiteSubscriber(t *testing.T) {
	_, b, srv := testGateway(t, Config{})

	conn := dialPush(t, srv)
	readEnvelope(t, conn)
	subscribeSite(t, conn, 7)

	// dev-7 belongs to site 7 in the registry, so its device-topic
	// telemetry must reach the site subscriber
	b.Publish(bus.DeviceTelemetryTopic("dev-7"), &types.Message{
		MessageType: types.MessageTelemetry,
		DeviceID:    "dev-7",
		Readings:    map[string]float64{"power": 250},
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, FrameDeviceReading, env.Type)
}

func TestErrorStatusReachesSiteSubscriber(t *testing.T) {
	_, b, srv := testGateway(t, Config{})

	connA := dialPush(t, srv)
	connB := dialPush(t, srv)
	readEnvelope(t, connA)
	readEnvelope(t, connB)
	subscribeSite(t, connA, 7)
	subscribeSite(t, connB, 8)

	// Routine transitions stay off the wire; only error statuses are
	// pushed, and only to the matching scope
	b.Publish(bus.DeviceStatusTopic("dev-7"), &types.Message{
		MessageType: types.MessageStatus,
		DeviceID:    "dev-7",
		Status:      types.StatusOnline,
	})
	b.Publish(bus.DeviceStatusTopic("dev-7"), &types.Message{
		MessageType: types.MessageStatus,
		DeviceID:    "dev-7",
		Status:      types.StatusError,
		Details:     "connection timed out",
	})

	env := readEnvelope(t, connA)
	assert.Equal(t, FrameError, env.Type)
	var msg types.Message
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, types.StatusError, msg.Status)
	assert.Equal(t, "dev-7", msg.DeviceID)

	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var stray Envelope
	assert.Error(t, connB.ReadJSON(&stray), "error envelope must not cross site scopes")
}

func TestDeviceScopedSubscription(t *testing.T) {
	_, b, srv := testGateway(t, Config{})

	conn := dialPush(t, srv)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "deviceId": "dev-8"}))
	env := readEnvelope(t, conn)
	require.Equal(t, FrameSubscribed, env.Type)
	require.Equal(t, "dev-8", env.DeviceID)

	b.Publish(bus.DeviceTelemetryTopic("dev-7"), &types.Message{MessageType: types.MessageTelemetry, DeviceID: "dev-7"})
	b.Publish(bus.DeviceTelemetryTopic("dev-8"), &types.Message{MessageType: types.MessageTelemetry, DeviceID: "dev-8"})

	got := readEnvelope(t, conn)
	assert.Equal(t, FrameDeviceReading, got.Type)
	var msg types.Message
	raw, err := json.Marshal(got.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "dev-8", msg.DeviceID)
}

func TestUnsubscribeStopsFanout(t *testing.T) {
	_, b, srv := testGateway(t, Config{})

	conn := dialPush(t, srv)
	readEnvelope(t, conn)
	subscribeSite(t, conn, 7)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "unsubscribe", "siteId": uint64(7)}))
	env := readEnvelope(t, conn)
	require.Equal(t, FrameUnsubscribed, env.Type)
	assert.Nil(t, env.SiteID)

	b.Publish(bus.SiteEnergyTopic(7), &types.Message{MessageType: types.MessageTelemetry})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var stray Envelope
	assert.Error(t, conn.ReadJSON(&stray))
}

func TestJSONPingGetsPong(t *testing.T) {
	_, _, srv := testGateway(t, Config{})

	conn := dialPush(t, srv)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, FramePong, env.Type)
}

func TestUnknownFrameGetsError(t *testing.T) {
	_, _, srv := testGateway(t, Config{})

	conn := dialPush(t, srv)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "teleport"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, FrameError, env.Type)
}

// pump reads envelopes on a background goroutine so the connection
// keeps answering server pings while the test waits elsewhere
func pump(t *testing.T, conn *websocket.Conn) <-chan Envelope {
	t.Helper()
	ch := make(chan Envelope, 16)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	go func() {
		defer close(ch)
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ch <- env
		}
	}()
	return ch
}

func expectFrame(t *testing.T, ch <-chan Envelope, frameType string) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "connection closed while waiting for %s", frameType)
		require.Equal(t, frameType, env.Type)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s frame", frameType)
		return Envelope{}
	}
}

func TestUnresponsiveClientIsTerminated(t *testing.T) {
	g, b, srv := testGateway(t, Config{PingInterval: 100 * time.Millisecond, SweepInterval: time.Hour})

	connA := dialPush(t, srv)
	connB := dialPush(t, srv)
	readEnvelope(t, connA)
	readEnvelope(t, connB)
	subscribeSite(t, connA, 7)
	subscribeSite(t, connB, 8)

	// A and B keep reading, so gorilla's default ping handler answers
	// the server's pings for them
	chA := pump(t, connA)
	chB := pump(t, connB)

	// C never reads and therefore never pongs
	dialPush(t, srv)
	require.Eventually(t, func() bool { return g.ClientCount() == 3 },
		time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return g.ClientCount() == 2 },
		2*time.Second, 20*time.Millisecond, "unresponsive client must be dropped")

	// A and B are unaffected
	b.Publish(bus.SiteEnergyTopic(7), &types.Message{MessageType: types.MessageTelemetry})
	b.Publish(bus.SiteEnergyTopic(8), &types.Message{MessageType: types.MessageTelemetry})
	expectFrame(t, chA, FrameEnergyReading)
	expectFrame(t, chB, FrameEnergyReading)
}

func TestSweepRemovesIdleConnections(t *testing.T) {
	g, _, srv := testGateway(t, Config{PingInterval: time.Hour, SweepInterval: 100 * time.Millisecond})

	conn := dialPush(t, srv)
	readEnvelope(t, conn)
	require.Equal(t, 1, g.ClientCount())

	// No frames, no pongs: lastActivity ages past two sweep intervals
	require.Eventually(t, func() bool { return g.ClientCount() == 0 },
		2*time.Second, 20*time.Millisecond)
}

func TestCloseTerminatesAllClients(t *testing.T) {
	b := bus.New()
	defer b.Close()
	g := New(b, testRegistry(t), Config{})
	require.NoError(t, g.Start())

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dialPush(t, srv)
	readEnvelope(t, conn)
	require.Equal(t, 1, g.ClientCount())

	g.Close()
	assert.Zero(t, g.ClientCount())
}
