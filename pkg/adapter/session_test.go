package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/types"
)

func testBackoff() Backoff {
	return Backoff{Initial: 10 * time.Millisecond, Max: 80 * time.Millisecond, MaxAttempts: 5}
}

func testDevice() types.Device {
	return types.Device{ID: 1, Key: "sim-battery-1", SiteID: 1, Type: types.DeviceBatteryStorage}
}

func newTestSession(t *testing.T, b *bus.Bus, hooks Hooks) *Session {
	t.Helper()
	s, err := NewSession(Config{
		Device:         testDevice(),
		Bus:            b,
		Protocol:       types.ProtocolModbus,
		Heartbeat:      0,
		CommandTimeout: 250 * time.Millisecond,
		Backoff:        testBackoff(),
		Hooks:          hooks,
	})
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func TestConnectPublishesOnlineStatus(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/sim-battery-1/status")
	require.NoError(t, err)

	s := newTestSession(t, b, Hooks{Dial: func() error { return nil }})
	require.NoError(t, s.Connect())
	assert.True(t, s.IsConnected())
	assert.Zero(t, s.Attempts())

	got, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.MessageType == types.MessageStatus && r.Message.Status == types.StatusOnline
	}, time.Second)
	require.True(t, ok)
	assert.Equal(t, "sim-battery-1", got.Message.DeviceID)
	assert.Equal(t, types.ProtocolModbus, got.Message.Protocol)
	assert.NotEmpty(t, got.Message.MessageID)

	_, ok = rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.MessageType == types.MessageEvent && r.Message.Event == types.EventConnected
	}, time.Second)
	assert.True(t, ok)
}

func TestConnectIsIdempotentWhenConnected(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var dials atomic.Int32
	s := newTestSession(t, b, Hooks{Dial: func() error { dials.Add(1); return nil }})

	require.NoError(t, s.Connect())
	require.NoError(t, s.Connect())
	assert.Equal(t, int32(1), dials.Load())
}

func TestConcurrentConnectsCoalesce(t *testing.T) {
	b := bus.New()
	defer b.Close()

	release := make(chan struct{})
	var dials atomic.Int32
	s := newTestSession(t, b, Hooks{Dial: func() error {
		dials.Add(1)
		<-release
		return nil
	}})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Connect()
		}(i)
	}
	// Let every goroutine reach Connect before releasing the dial
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, s.IsConnected())
}

func TestReconnectBackoffAndReset(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var dials atomic.Int32
	failUntil := int32(3)
	connected := make(chan struct{})
	s := newTestSession(t, b, Hooks{Dial: func() error {
		n := dials.Add(1)
		if n <= failUntil {
			return types.ErrConnectionRefused
		}
		close(connected)
		return nil
	}})

	err := s.Connect()
	require.ErrorIs(t, err, types.ErrConnectionRefused)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 1, s.Attempts())

	// Reconnect timer drives the remaining attempts on its own
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("session never reconnected")
	}
	require.Eventually(t, s.IsConnected, time.Second, 5*time.Millisecond)
	assert.Zero(t, s.Attempts())
	assert.Equal(t, int32(4), dials.Load())
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	b := Backoff{Initial: 5 * time.Second, Max: 60 * time.Second, MaxAttempts: 5}

	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(2))
	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 40*time.Second, b.Delay(4))
	assert.Equal(t, 60*time.Second, b.Delay(5))
	assert.Equal(t, 60*time.Second, b.Delay(6))
	assert.Equal(t, 60*time.Second, b.Delay(50))
}

func TestBackoffJitterStaysInSpread(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 100; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var probes atomic.Int32
	s, err := NewSession(Config{
		Device:    testDevice(),
		Bus:       b,
		Protocol:  types.ProtocolModbus,
		Heartbeat: 15 * time.Millisecond,
		Backoff:   testBackoff(),
		Hooks: Hooks{
			Dial:  func() error { return nil },
			Probe: func() error { probes.Add(1); return nil },
		},
	})
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Connect())
	first := s.LastSeen()

	require.Eventually(t, func() bool { return probes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.LastSeen().After(first) || s.LastSeen().Equal(first))
	assert.True(t, s.IsConnected())
}

func TestHeartbeatFailureTriggersReconnect(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/sim-battery-1/status")
	require.NoError(t, err)

	var probeFail atomic.Bool
	probeFail.Store(true)
	var dials atomic.Int32
	s, err := NewSession(Config{
		Device:    testDevice(),
		Bus:       b,
		Protocol:  types.ProtocolModbus,
		Heartbeat: 15 * time.Millisecond,
		Backoff:   testBackoff(),
		Hooks: Hooks{
			Dial: func() error { dials.Add(1); return nil },
			Probe: func() error {
				if probeFail.Swap(false) {
					return types.ErrTimeout
				}
				return nil
			},
		},
	})
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Connect())

	_, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.MessageType == types.MessageStatus && r.Message.Status == types.StatusError
	}, time.Second)
	require.True(t, ok, "heartbeat failure should publish status=error")

	require.Eventually(t, func() bool {
		return s.IsConnected() && dials.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/sim-battery-1/status")
	require.NoError(t, err)

	var closes atomic.Int32
	s := newTestSession(t, b, Hooks{
		Dial:  func() error { return nil },
		Close: func() { closes.Add(1) },
	})

	require.NoError(t, s.Connect())
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, int32(1), closes.Load())

	_, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.MessageType == types.MessageStatus && r.Message.Status == types.StatusOffline
	}, time.Second)
	assert.True(t, ok)
}

func TestShutdownSilencesSession(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/#")
	require.NoError(t, err)

	s := newTestSession(t, b, Hooks{Dial: func() error { return nil }})
	require.NoError(t, s.Connect())

	s.Shutdown()
	assert.Equal(t, StateShuttingDown, s.State())

	// The final offline notice may land, then nothing more
	_, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.Status == types.StatusOffline
	}, time.Second)
	require.True(t, ok)
	time.Sleep(30 * time.Millisecond)
	before := rec.Count()

	s.PublishTelemetry(map[string]float64{types.ChannelPower: 100}, nil, nil)
	s.PublishStatus(types.StatusOnline, "", nil)
	require.Error(t, s.Connect())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, rec.Count(), "session must publish nothing after Shutdown")
}

func TestShutdownIsTerminal(t *testing.T) {
	b := bus.New()
	defer b.Close()

	s := newTestSession(t, b, Hooks{Dial: func() error { return nil }})
	s.Shutdown()
	s.Shutdown()

	err := s.Connect()
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, StateShuttingDown, s.State())
}

func TestExecuteCommandPublishesResponse(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/sim-battery-1/commands/response")
	require.NoError(t, err)

	s := newTestSession(t, b, Hooks{
		Dial: func() error { return nil },
		Exec: func(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
			if command != "set_power" {
				return nil, errors.New("unsupported command")
			}
			return map[string]any{"applied": params["watts"]}, nil
		},
	})
	require.NoError(t, s.Connect())

	msg, err := s.ExecuteCommand("set_power", map[string]any{"watts": 2000.0})
	require.NoError(t, err)
	assert.True(t, msg.Success)
	assert.Equal(t, 2000.0, msg.Result["applied"])

	got, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.MessageType == types.MessageCommandResponse
	}, time.Second)
	require.True(t, ok)
	assert.True(t, got.Message.Success)
	assert.Equal(t, "set_power", got.Message.Command)
}

func TestExecuteCommandTimesOut(t *testing.T) {
	b := bus.New()
	defer b.Close()

	s := newTestSession(t, b, Hooks{
		Dial: func() error { return nil },
		Exec: func(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, s.Connect())

	start := time.Now()
	msg, err := s.ExecuteCommand("slow", nil)
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.False(t, msg.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCommandArrivesOverBus(t *testing.T) {
	b := bus.New()
	defer b.Close()
	rec, err := bus.NewRecorder(b, "devices/sim-battery-1/commands/response")
	require.NoError(t, err)

	executed := make(chan string, 1)
	s := newTestSession(t, b, Hooks{
		Dial: func() error { return nil },
		Exec: func(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
			executed <- command
			return nil, nil
		},
	})
	require.NoError(t, s.Connect())

	require.NoError(t, b.Publish("devices/sim-battery-1/commands", &types.Message{
		MessageType: types.MessageCommand,
		Command:     "reboot",
	}))

	select {
	case cmd := <-executed:
		assert.Equal(t, "reboot", cmd)
	case <-time.After(time.Second):
		t.Fatal("command never dispatched from the bus")
	}
	_, ok := rec.WaitMatch(func(r bus.Recorded) bool {
		return r.Message.Command == "reboot" && r.Message.Success
	}, time.Second)
	assert.True(t, ok)
}

func TestScanLoopPausesWhileDisconnected(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var scans atomic.Int32
	s, err := NewSession(Config{
		Device:       testDevice(),
		Bus:          b,
		Protocol:     types.ProtocolModbus,
		ScanInterval: 10 * time.Millisecond,
		Backoff:      testBackoff(),
		Hooks: Hooks{
			Dial: func() error { return nil },
			Scan: func() error { scans.Add(1); return nil },
		},
	})
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.StartScanning())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, scans.Load(), "scan must not run before connect")

	require.NoError(t, s.Connect())
	require.Eventually(t, func() bool { return scans.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect())
	settled := scans.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, scans.Load(), "scan must pause while disconnected")
}

func TestScanErrorFailsSession(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var dials atomic.Int32
	scanFail := atomic.Bool{}
	scanFail.Store(true)
	s, err := NewSession(Config{
		Device:       testDevice(),
		Bus:          b,
		Protocol:     types.ProtocolModbus,
		ScanInterval: 10 * time.Millisecond,
		Backoff:      testBackoff(),
		Hooks: Hooks{
			Dial: func() error { dials.Add(1); return nil },
			Scan: func() error {
				if scanFail.Swap(false) {
					return types.ErrNotConnected
				}
				return nil
			},
		},
	})
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Connect())
	require.NoError(t, s.StartScanning())

	// First scan fails the session; the reconnect timer recovers it
	// and the loop resumes on the new connection
	require.Eventually(t, func() bool {
		return s.IsConnected() && dials.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}
