package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/metrics"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// DefaultCommandTimeout bounds ExecuteCommand for every protocol
const DefaultCommandTimeout = 30 * time.Second

// Hooks are the protocol-specific callbacks a concrete adapter plugs
// into the base session. Dial and Close own the wire; Probe runs on
// each heartbeat; Scan runs on each poll tick; Exec implements the
// protocol's commands.
type Hooks struct {
	// Dial establishes the wire connection
	Dial func() error

	// Close releases the wire connection; must tolerate being called
	// when the wire is already down
	Close func()

	// Probe is the lightweight heartbeat check; nil means the
	// heartbeat only refreshes lastSeen
	Probe func() error

	// Snapshot emits a telemetry snapshot after a successful
	// heartbeat; optional
	Snapshot func()

	// Scan is the poll body for polling adapters; nil makes
	// StartScanning a no-op
	Scan func() error

	// Exec implements protocol commands; the context carries the
	// command timeout
	Exec func(ctx context.Context, command string, params map[string]any) (map[string]any, error)
}

// Config configures a base session
type Config struct {
	Device   types.Device
	Bus      *bus.Bus
	Protocol types.Protocol

	// TopicRoot is "devices" unless the session fronts a gateway
	TopicRoot string

	// Heartbeat interval; 0 disables the heartbeat timer
	Heartbeat time.Duration

	// ScanInterval paces the Scan hook; defaults to 5 s when a Scan
	// hook is present
	ScanInterval time.Duration

	CommandTimeout time.Duration
	Backoff        Backoff
	Hooks          Hooks
}

type timerKind int

const (
	timerNone timerKind = iota
	timerHeartbeat
	timerReconnect
)

// Session is the base adapter session: the state machine, the single
// heartbeat-or-reconnect timer, backoff bookkeeping, and the bus
// publishing surface. Concrete adapters embed it and supply Hooks.
//
// The session owns exactly one timer in any non-terminal state:
// heartbeat while Connected, reconnect while Error, none otherwise.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	lastSeen  time.Time
	timer     *time.Timer
	timerKind timerKind
	waiters   []chan error

	scanMu   sync.Mutex
	scanStop chan struct{}

	cmdSub *bus.Subscription
	stopCh chan struct{}
}

// NewSession creates a session and subscribes it to its command topic
func NewSession(cfg Config) (*Session, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("device %q: nil bus", cfg.Device.Key)
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "devices"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}

	s := &Session{
		cfg:    cfg,
		state:  StateDisconnected,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("adapter").With().
			Str("device_id", cfg.Device.Key).
			Str("protocol", string(cfg.Protocol)).Logger(),
	}

	sub, err := cfg.Bus.Subscribe(s.commandTopic(), s.onCommandMessage)
	if err != nil {
		return nil, fmt.Errorf("device %q: command subscription: %w", cfg.Device.Key, err)
	}
	s.cmdSub = sub
	metrics.AdaptersByState.WithLabelValues(string(cfg.Protocol), string(StateDisconnected)).Inc()
	return s, nil
}

// DeviceKey returns the stable device id
func (s *Session) DeviceKey() string { return s.cfg.Device.Key }

// Protocol returns the protocol family
func (s *Session) Protocol() types.Protocol { return s.cfg.Protocol }

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is Connected
func (s *Session) IsConnected() bool { return s.State() == StateConnected }

// LastSeen returns the last successful connect or heartbeat time
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SetBackoff replaces the reconnect policy; call before Connect
func (s *Session) SetBackoff(b Backoff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Backoff = b
}

// Attempts returns the connection attempt counter; it resets to zero
// on a successful connect
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// setStateLocked transitions the state and keeps the state gauge in
// step. Callers hold s.mu.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	proto := string(s.cfg.Protocol)
	metrics.AdaptersByState.WithLabelValues(proto, string(s.state)).Dec()
	metrics.AdaptersByState.WithLabelValues(proto, string(next)).Inc()
	s.logger.Debug().Str("from", string(s.state)).Str("to", string(next)).Msg("State transition")
	s.state = next
}

func (s *Session) armTimerLocked(kind timerKind, d time.Duration, fn func()) {
	s.cancelTimerLocked()
	s.timerKind = kind
	s.timer = time.AfterFunc(d, fn)
}

func (s *Session) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerKind = timerNone
}

func (s *Session) armHeartbeatLocked() {
	if s.cfg.Heartbeat <= 0 {
		return
	}
	s.armTimerLocked(timerHeartbeat, s.cfg.Heartbeat, s.heartbeat)
}

func (s *Session) drainWaitersLocked() []chan error {
	waiters := s.waiters
	s.waiters = nil
	return waiters
}

func notify(waiters []chan error, err error) {
	for _, ch := range waiters {
		ch <- err
	}
}

// Connect establishes the wire connection. Concurrent calls while an
// attempt is in flight are coalesced onto its outcome. On failure the
// session enters Error and arms the reconnect timer.
func (s *Session) Connect() error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateShuttingDown:
		s.mu.Unlock()
		return types.ErrCancelled
	case StateConnecting:
		ch := make(chan error, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		return <-ch
	}
	s.cancelTimerLocked()
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	var err error
	if s.cfg.Hooks.Dial != nil {
		err = s.cfg.Hooks.Dial()
	}

	s.mu.Lock()
	if s.state == StateShuttingDown {
		waiters := s.drainWaitersLocked()
		s.mu.Unlock()
		if err == nil && s.cfg.Hooks.Close != nil {
			s.cfg.Hooks.Close()
		}
		notify(waiters, types.ErrCancelled)
		return types.ErrCancelled
	}
	if s.state == StateDisconnected {
		// Disconnect preempted the attempt
		waiters := s.drainWaitersLocked()
		s.mu.Unlock()
		if err == nil && s.cfg.Hooks.Close != nil {
			s.cfg.Hooks.Close()
		}
		notify(waiters, types.ErrCancelled)
		return types.ErrCancelled
	}

	if err != nil {
		s.attempts++
		attempt := s.attempts
		s.setStateLocked(StateError)
		delay := s.cfg.Backoff.Delay(attempt)
		s.armTimerLocked(timerReconnect, delay, s.reconnect)
		waiters := s.drainWaitersLocked()
		s.mu.Unlock()

		s.logger.Warn().Err(err).Int("attempt", attempt).
			Dur("retry_in", delay).Msg("Connect failed")
		s.PublishStatus(types.StatusError, err.Error(), nil)
		notify(waiters, err)
		return err
	}

	s.attempts = 0
	s.lastSeen = time.Now()
	s.setStateLocked(StateConnected)
	s.armHeartbeatLocked()
	waiters := s.drainWaitersLocked()
	s.mu.Unlock()

	s.logger.Info().Msg("Connected")
	s.PublishStatus(types.StatusOnline, "", nil)
	s.PublishEvent(types.EventConnected, nil)
	notify(waiters, nil)
	return nil
}

func (s *Session) reconnect() {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	metrics.AdapterReconnects.WithLabelValues(string(s.cfg.Protocol)).Inc()
	_ = s.Connect()
}

func (s *Session) heartbeat() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	proto := string(s.cfg.Protocol)
	if s.cfg.Hooks.Probe != nil {
		if err := s.cfg.Hooks.Probe(); err != nil {
			metrics.AdapterHeartbeats.WithLabelValues(proto, "fail").Inc()
			s.Fail(fmt.Errorf("heartbeat: %w", err))
			return
		}
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.lastSeen = time.Now()
	s.armHeartbeatLocked()
	s.mu.Unlock()

	metrics.AdapterHeartbeats.WithLabelValues(proto, "ok").Inc()
	s.PublishEvent(types.EventHeartbeat, nil)
	if s.cfg.Hooks.Snapshot != nil {
		s.cfg.Hooks.Snapshot()
	}
}

// Fail records a wire error: the session transitions to Error,
// releases the wire, publishes status=error, and arms reconnect. Used
// by heartbeat failures and by adapters when a scan or read dies.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state != StateConnected && s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.cancelTimerLocked()
	s.setStateLocked(StateError)
	delay := s.cfg.Backoff.Delay(s.attempts + 1)
	s.armTimerLocked(timerReconnect, delay, s.reconnect)
	s.mu.Unlock()

	if s.cfg.Hooks.Close != nil {
		s.cfg.Hooks.Close()
	}
	s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Session failed")
	s.PublishStatus(types.StatusError, err.Error(), nil)
	s.PublishEvent(types.EventError, map[string]string{"error": err.Error()})
}

// Disconnect releases the wire and cancels all owned timers. The
// session can be reconnected afterwards. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateShuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.cancelTimerLocked()
	s.setStateLocked(StateDisconnected)
	waiters := s.drainWaitersLocked()
	s.mu.Unlock()

	s.StopScanning()
	notify(waiters, types.ErrCancelled)
	if s.cfg.Hooks.Close != nil {
		s.cfg.Hooks.Close()
	}
	s.logger.Info().Msg("Disconnected")
	s.PublishStatus(types.StatusOffline, "", nil)
	s.PublishEvent(types.EventDisconnected, nil)
	return nil
}

// Shutdown terminates the session. After it returns, all timers are
// cancelled, the wire is released, the command subscription is gone,
// and nothing further is published for this device.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.state == StateShuttingDown {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.cancelTimerLocked()
	s.setStateLocked(StateShuttingDown)
	waiters := s.drainWaitersLocked()
	cmdSub := s.cmdSub
	s.cmdSub = nil
	s.mu.Unlock()

	close(s.stopCh)
	s.StopScanning()
	notify(waiters, types.ErrCancelled)
	if s.cfg.Hooks.Close != nil {
		s.cfg.Hooks.Close()
	}
	if prev == StateConnected {
		// Final offline notice goes out before the session falls
		// silent; it bypasses the shutdown publish guard
		msg := s.envelope(&types.Message{
			MessageType: types.MessageStatus,
			Status:      types.StatusOffline,
			Details:     "shutdown",
		})
		if err := s.cfg.Bus.Publish(s.statusTopic(), msg); err != nil {
			s.logger.Error().Err(err).Msg("Final status publish failed")
		}
	}
	s.cfg.Bus.Unsubscribe(cmdSub)
	metrics.AdaptersByState.WithLabelValues(string(s.cfg.Protocol), string(StateShuttingDown)).Dec()
	s.logger.Info().Msg("Session shut down")
}

// StartScanning starts the poll loop for polling adapters; no-op when
// the adapter has no Scan hook or is already scanning. The loop
// survives reconnects: ticks while not Connected are skipped.
func (s *Session) StartScanning() error {
	if s.cfg.Hooks.Scan == nil {
		return nil
	}
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanStop != nil {
		return nil
	}
	if s.State() == StateShuttingDown {
		return types.ErrCancelled
	}
	stop := make(chan struct{})
	s.scanStop = stop
	go s.scanLoop(stop)
	return nil
}

// StopScanning stops the poll loop; no-op when not scanning
func (s *Session) StopScanning() error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanStop != nil {
		close(s.scanStop)
		s.scanStop = nil
	}
	return nil
}

func (s *Session) scanLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.State() != StateConnected {
				continue
			}
			if err := s.cfg.Hooks.Scan(); err != nil {
				s.Fail(fmt.Errorf("scan: %w", err))
			}
		case <-stop:
			return
		case <-s.stopCh:
			return
		}
	}
}

// onCommandMessage dispatches commands arriving on the bus
func (s *Session) onCommandMessage(topic string, msg *types.Message) {
	if msg.MessageType != types.MessageCommand || msg.Command == "" {
		return
	}
	_, _ = s.ExecuteCommand(msg.Command, msg.Parameters)
}

// ExecuteCommand runs a protocol command with the session's timeout
// and publishes exactly one command_response.
func (s *Session) ExecuteCommand(command string, params map[string]any) (*types.Message, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommandDuration.WithLabelValues(string(s.cfg.Protocol)))

	if s.cfg.Hooks.Exec == nil {
		err := fmt.Errorf("command %q: %w", command, types.ErrProtocolViolation)
		return s.publishResponse(command, false, nil, err.Error()), err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.cfg.Hooks.Exec(ctx, command, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				err := fmt.Errorf("command %q: %w", command, types.ErrTimeout)
				return s.publishResponse(command, false, nil, err.Error()), err
			}
			return s.publishResponse(command, false, out.result, out.err.Error()), out.err
		}
		return s.publishResponse(command, true, out.result, ""), nil
	case <-ctx.Done():
		err := fmt.Errorf("command %q: %w", command, types.ErrTimeout)
		return s.publishResponse(command, false, nil, err.Error()), err
	case <-s.stopCh:
		err := fmt.Errorf("command %q: %w", command, types.ErrCancelled)
		return s.envelope(&types.Message{
			MessageType: types.MessageCommandResponse,
			Command:     command,
			Error:       err.Error(),
		}), err
	}
}

// Topic helpers

func (s *Session) statusTopic() string {
	if s.cfg.TopicRoot == "gateways" {
		return bus.GatewayStatusTopic(s.cfg.Device.Key)
	}
	return bus.DeviceStatusTopic(s.cfg.Device.Key)
}

func (s *Session) telemetryTopic() string {
	if s.cfg.TopicRoot == "gateways" {
		return bus.GatewayTelemetryTopic(s.cfg.Device.Key)
	}
	return bus.DeviceTelemetryTopic(s.cfg.Device.Key)
}

func (s *Session) commandTopic() string {
	if s.cfg.TopicRoot == "gateways" {
		return bus.GatewayCommandTopic(s.cfg.Device.Key)
	}
	return bus.DeviceCommandTopic(s.cfg.Device.Key)
}

func (s *Session) envelope(msg *types.Message) *types.Message {
	msg.MessageID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	msg.DeviceID = s.cfg.Device.Key
	msg.DeviceType = s.cfg.Device.Type
	msg.Protocol = s.cfg.Protocol
	return msg
}

func (s *Session) publish(topic string, msg *types.Message) {
	if s.State() == StateShuttingDown {
		return
	}
	s.envelope(msg)
	if err := s.cfg.Bus.Publish(topic, msg); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Publish failed")
	}
}

// PublishStatus publishes on the session's status topic
func (s *Session) PublishStatus(status types.DeviceStatus, details string, metadata map[string]string) {
	s.publish(s.statusTopic(), &types.Message{
		MessageType: types.MessageStatus,
		Status:      status,
		Details:     details,
		Metadata:    metadata,
	})
}

// PublishTelemetry publishes a normalized telemetry message on the
// session's telemetry topic
func (s *Session) PublishTelemetry(readings map[string]float64, units map[string]string, metadata map[string]string) {
	s.publish(s.telemetryTopic(), &types.Message{
		MessageType: types.MessageTelemetry,
		Readings:    readings,
		Units:       units,
		Metadata:    metadata,
	})
}

// PublishEvent publishes a lifecycle or protocol event on the
// session's status topic
func (s *Session) PublishEvent(event string, metadata map[string]string) {
	s.publish(s.statusTopic(), &types.Message{
		MessageType: types.MessageEvent,
		Event:       event,
		Metadata:    metadata,
	})
}

func (s *Session) publishResponse(command string, success bool, result map[string]any, errStr string) *types.Message {
	msg := &types.Message{
		MessageType: types.MessageCommandResponse,
		Command:     command,
		Success:     success,
		Result:      result,
		Error:       errStr,
	}
	s.publish(bus.DeviceCommandResponseTopic(s.cfg.Device.Key), msg)
	return msg
}
