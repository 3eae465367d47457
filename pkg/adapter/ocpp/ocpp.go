package ocpp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/adapter"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/sim"
	"github.com/voltgrid/voltgrid/pkg/types"
)

const (
	defaultHeartbeat     = 300 * time.Second
	defaultMeterInterval = 60 * time.Second
)

// Adapter is the OCPP charge point adapter. It owns the OCPP-J
// connection, a connector table with at most one running transaction
// per connector, and the pending-call correlation table.
type Adapter struct {
	*adapter.Session
	transport  Transport
	cfg        *types.OCPPConfig
	connectors *connectorTable
	pending    *pendingCalls
	profile    *sim.Profile
	logger     zerolog.Logger
}

// New builds an OCPP adapter for the device. Mock connections get the
// in-process peer and a sim profile as meter source.
func New(dev types.Device, b *bus.Bus) (*Adapter, error) {
	cfg := dev.Connection.OCPP
	if cfg == nil {
		return nil, fmt.Errorf("device %q: missing ocpp connection config", dev.Key)
	}

	var transport Transport
	var profile *sim.Profile
	if dev.Connection.Mock {
		transport = NewMockTransport(cfg.Connectors, cfg.Chaos)
		profile = sim.NewProfile(dev.Type, int64(len(dev.Key)))
	} else {
		t, err := NewWSTransport(cfg.Endpoint, cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", dev.Key, err)
		}
		transport = t
	}
	return newWithTransport(dev, b, transport, profile)
}

func newWithTransport(dev types.Device, b *bus.Bus, transport Transport, profile *sim.Profile) (*Adapter, error) {
	cfg := dev.Connection.OCPP
	heartbeat := defaultHeartbeat
	if cfg.HeartbeatSec > 0 {
		heartbeat = time.Duration(cfg.HeartbeatSec) * time.Second
	}
	meterInterval := defaultMeterInterval
	if cfg.MeterIntervalSec > 0 {
		meterInterval = time.Duration(cfg.MeterIntervalSec) * time.Second
	}

	a := &Adapter{
		transport:  transport,
		cfg:        cfg,
		connectors: newConnectorTable(cfg.Connectors),
		pending:    newPendingCalls(DefaultCallTimeout),
		profile:    profile,
		logger: log.WithComponent("ocpp").With().
			Str("device_id", dev.Key).Logger(),
	}

	sess, err := adapter.NewSession(adapter.Config{
		Device:       dev,
		Bus:          b,
		Protocol:     types.ProtocolOCPP,
		Heartbeat:    heartbeat,
		ScanInterval: meterInterval,
		Hooks: adapter.Hooks{
			Dial:  a.dial,
			Close: transport.Close,
			Probe: a.probe,
			Scan:  a.meterTick,
			Exec:  a.exec,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Session = sess
	return a, nil
}

// MockTransport returns the underlying mock peer, or nil on a real
// wire
func (a *Adapter) MockTransport() *MockTransport {
	if m, ok := a.transport.(*MockTransport); ok {
		return m
	}
	return nil
}

// Connector returns a copy of the connector's current state
func (a *Adapter) Connector(id int) (Connector, error) {
	return a.connectors.get(id)
}

// dial opens the transport and performs the BootNotification
// handshake; rejection fails the connect attempt
func (a *Adapter) dial() error {
	if err := a.transport.Connect(a.onFrame, a.onDrop); err != nil {
		return err
	}

	payload, err := a.call("BootNotification", map[string]any{
		"chargePointVendor":       a.cfg.Vendor,
		"chargePointModel":        a.cfg.Model,
		"chargePointSerialNumber": a.cfg.SerialNumber,
		"firmwareVersion":         a.cfg.FirmwareVersion,
	})
	if err != nil {
		a.transport.Close()
		return fmt.Errorf("boot notification: %w", err)
	}

	var boot struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	if err := json.Unmarshal(payload, &boot); err != nil {
		a.transport.Close()
		return fmt.Errorf("boot notification response: %w", types.ErrProtocolViolation)
	}
	if boot.Status != "Accepted" {
		a.transport.Close()
		return fmt.Errorf("boot notification rejected with %q: %w", boot.Status, types.ErrProtocolViolation)
	}
	a.logger.Info().Int("interval", boot.Interval).Msg("Boot notification accepted")
	return nil
}

// probe is the session heartbeat: one OCPP Heartbeat round trip
func (a *Adapter) probe() error {
	_, err := a.call("Heartbeat", map[string]any{})
	return err
}

// call sends an outgoing call and waits for its result
func (a *Adapter) call(action string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	data, err := MarshalCall(id, action, payload)
	if err != nil {
		return nil, err
	}
	ch := a.pending.register(id)
	if err := a.transport.Send(data); err != nil {
		a.pending.remove(id)
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	return a.pending.wait(id, ch)
}

// onFrame dispatches every inbound frame
func (a *Adapter) onFrame(data []byte) {
	frame, err := Parse(data)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Unparseable frame dropped")
		return
	}

	switch frame.Type {
	case MessageCallResult:
		if !a.pending.resolve(frame.ID, frame.Payload) {
			a.logger.Debug().Str("id", frame.ID).Msg("Result for unknown call")
		}
	case MessageCallError:
		err := fmt.Errorf("call error %s: %s: %w", frame.ErrorCode, frame.ErrorDescription, types.ErrProtocolViolation)
		if !a.pending.reject(frame.ID, err) {
			a.logger.Debug().Str("id", frame.ID).Msg("Error for unknown call")
		}
	case MessageCall:
		a.handleCall(frame)
	}
}

// onDrop handles the wire dying: every pending call fails and the
// session reconnects
func (a *Adapter) onDrop(err error) {
	a.pending.failAll(fmt.Errorf("wire dropped: %w", types.ErrNotConnected))
	a.Fail(err)
}

// handleCall routes peer-originated calls. Every call is acknowledged:
// handled actions with their result, unknown actions with an empty
// CallResult.
func (a *Adapter) handleCall(frame *Frame) {
	var result any
	var err error

	switch frame.Action {
	case "StatusNotification":
		err = a.handleStatusNotification(frame.Payload)
	case "MeterValues":
		err = a.handleMeterValues(frame.Payload)
	case "StartTransaction":
		result, err = a.handleStartTransaction(frame.Payload)
	case "StopTransaction":
		result, err = a.handleStopTransaction(frame.Payload)
	default:
		a.logger.Debug().Str("action", frame.Action).Msg("Unknown action acknowledged")
	}

	var data []byte
	if err != nil {
		a.logger.Warn().Err(err).Str("action", frame.Action).Msg("Call handler failed")
		data, _ = MarshalCallError(frame.ID, "InternalError", err.Error())
	} else {
		data, _ = MarshalCallResult(frame.ID, result)
	}
	if sendErr := a.transport.Send(data); sendErr != nil {
		a.logger.Warn().Err(sendErr).Msg("Ack send failed")
	}
}

func (a *Adapter) handleStatusNotification(payload json.RawMessage) error {
	var p struct {
		ConnectorID int    `json:"connectorId"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("status notification payload: %w", types.ErrProtocolViolation)
	}
	if err := a.connectors.setStatus(p.ConnectorID, ConnectorStatus(p.Status)); err != nil {
		return err
	}
	a.PublishEvent("statusNotification", map[string]string{
		"connectorId": strconv.Itoa(p.ConnectorID),
		"status":      p.Status,
	})
	return nil
}

func (a *Adapter) handleMeterValues(payload json.RawMessage) error {
	var p struct {
		ConnectorID int `json:"connectorId"`
		MeterValue  []struct {
			SampledValue []struct {
				Value     string `json:"value"`
				Measurand string `json:"measurand"`
			} `json:"sampledValue"`
		} `json:"meterValue"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("meter values payload: %w", types.ErrProtocolViolation)
	}

	readings := make(map[string]float64)
	for _, mv := range p.MeterValue {
		for _, sv := range mv.SampledValue {
			v, err := strconv.ParseFloat(sv.Value, 64)
			if err != nil {
				continue
			}
			switch sv.Measurand {
			case "", "Energy.Active.Import.Register":
				readings[types.ChannelEnergy] = v
			case "Power.Active.Import":
				readings[types.ChannelPower] = v
			}
		}
	}
	if len(readings) == 0 {
		return nil
	}

	if energy, ok := readings[types.ChannelEnergy]; ok {
		power := readings[types.ChannelPower]
		if _, err := a.connectors.advance(p.ConnectorID, energy, power); err == nil {
			a.publishTransactionEvent(types.EventTransactionUpdate, p.ConnectorID)
		}
	}
	a.PublishTelemetry(readings, canonicalUnits(readings), map[string]string{
		"connectorId": strconv.Itoa(p.ConnectorID),
	})
	return nil
}

func (a *Adapter) handleStartTransaction(payload json.RawMessage) (any, error) {
	var p struct {
		ConnectorID int     `json:"connectorId"`
		IDTag       string  `json:"idTag"`
		MeterStart  float64 `json:"meterStart"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("start transaction payload: %w", types.ErrProtocolViolation)
	}
	txn, err := a.connectors.start(p.ConnectorID, p.IDTag, p.MeterStart, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	a.publishTransactionEvent(types.EventTransactionStart, p.ConnectorID)
	return map[string]any{
		"transactionId": txn.ID,
		"idTagInfo":     map[string]any{"status": "Accepted"},
	}, nil
}

func (a *Adapter) handleStopTransaction(payload json.RawMessage) (any, error) {
	var p struct {
		TransactionID int     `json:"transactionId"`
		MeterStop     float64 `json:"meterStop"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("stop transaction payload: %w", types.ErrProtocolViolation)
	}

	connectorID, ok := a.findTransaction(p.TransactionID)
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", p.TransactionID, types.ErrNoActiveTransaction)
	}
	txn, err := a.connectors.stop(connectorID, p.MeterStop, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	a.publishStoppedTransaction(txn)
	return map[string]any{"idTagInfo": map[string]any{"status": "Accepted"}}, nil
}

func (a *Adapter) findTransaction(txnID int) (int, bool) {
	for _, id := range a.connectors.active() {
		c, err := a.connectors.get(id)
		if err == nil && c.CurrentTransaction != nil && c.CurrentTransaction.ID == txnID {
			return id, true
		}
	}
	return 0, false
}

// StartTransaction begins a charging session on the connector. The
// peer is informed best-effort; local connector state is the truth.
func (a *Adapter) StartTransaction(connectorID int, idTag string) (Transaction, error) {
	txn, err := a.connectors.start(connectorID, idTag, a.meterEnergy(), time.Now().UTC())
	if err != nil {
		return Transaction{}, err
	}

	go func() {
		if _, err := a.call("StartTransaction", map[string]any{
			"connectorId": connectorID,
			"idTag":       idTag,
			"meterStart":  txn.MeterStart,
			"timestamp":   txn.StartedAt.Format(time.RFC3339),
		}); err != nil {
			a.logger.Warn().Err(err).Msg("Peer StartTransaction failed")
		}
	}()

	a.publishTransactionEvent(types.EventTransactionStart, connectorID)
	return txn, nil
}

// StopTransaction ends the running charging session on the connector
func (a *Adapter) StopTransaction(connectorID int) (Transaction, error) {
	txn, err := a.connectors.stop(connectorID, a.meterEnergy(), time.Now().UTC())
	if err != nil {
		return Transaction{}, err
	}

	go func() {
		if _, err := a.call("StopTransaction", map[string]any{
			"transactionId": txn.ID,
			"meterStop":     txn.MeterStop,
			"timestamp":     txn.StoppedAt.Format(time.RFC3339),
		}); err != nil {
			a.logger.Warn().Err(err).Msg("Peer StopTransaction failed")
		}
	}()

	a.publishStoppedTransaction(txn)
	return txn, nil
}

// meterTick is the periodic MeterValues cycle: each connector with a
// running transaction advances its meter figures and publishes a
// transactionUpdate.
func (a *Adapter) meterTick() error {
	now := time.Now().UTC()
	for _, connectorID := range a.connectors.active() {
		energy, power := a.meterSample(connectorID, now)
		if _, err := a.connectors.advance(connectorID, energy, power); err != nil {
			continue
		}

		go func(connectorID int, energy, power float64) {
			if _, err := a.call("MeterValues", map[string]any{
				"connectorId": connectorID,
				"meterValue": []map[string]any{{
					"timestamp": now.Format(time.RFC3339),
					"sampledValue": []map[string]any{
						{"value": strconv.FormatFloat(energy, 'f', 1, 64), "measurand": "Energy.Active.Import.Register"},
						{"value": strconv.FormatFloat(power, 'f', 1, 64), "measurand": "Power.Active.Import"},
					},
				}},
			}); err != nil {
				a.logger.Warn().Err(err).Msg("Peer MeterValues failed")
			}
		}(connectorID, energy, power)

		a.publishTransactionEvent(types.EventTransactionUpdate, connectorID)
		a.PublishTelemetry(
			map[string]float64{types.ChannelPower: power, types.ChannelEnergy: energy},
			map[string]string{types.ChannelPower: "W", types.ChannelEnergy: "Wh"},
			map[string]string{"connectorId": strconv.Itoa(connectorID)},
		)
	}
	return nil
}

// meterSample produces the current meter figures for a connector
func (a *Adapter) meterSample(connectorID int, now time.Time) (energyWh, powerW float64) {
	if a.profile != nil {
		readings, _ := a.profile.Readings(now)
		return a.profile.EnergyWh(), readings[types.ChannelPower]
	}
	// Real charge points push MeterValues; reuse the last known figures
	c, err := a.connectors.get(connectorID)
	if err != nil || c.CurrentTransaction == nil {
		return 0, 0
	}
	return c.CurrentTransaction.EnergyWh, c.CurrentTransaction.PowerW
}

func (a *Adapter) meterEnergy() float64 {
	if a.profile != nil {
		return a.profile.EnergyWh()
	}
	return 0
}

// publishTransactionEvent publishes a transaction lifecycle event for
// the connector's running transaction
func (a *Adapter) publishTransactionEvent(event string, connectorID int) {
	c, err := a.connectors.get(connectorID)
	if err != nil || c.CurrentTransaction == nil {
		return
	}
	txn := c.CurrentTransaction
	a.PublishEvent(event, map[string]string{
		"connectorId":   strconv.Itoa(connectorID),
		"transactionId": strconv.Itoa(txn.ID),
		"status":        string(c.Status),
		"energy":        strconv.FormatFloat(txn.EnergyWh, 'f', 1, 64),
		"power":         strconv.FormatFloat(txn.PowerW, 'f', 1, 64),
		"duration":      txn.Duration(time.Now().UTC()).Truncate(time.Second).String(),
	})
}

// publishStoppedTransaction publishes the terminal transaction event
func (a *Adapter) publishStoppedTransaction(txn Transaction) {
	a.PublishEvent(types.EventTransactionStop, map[string]string{
		"connectorId":   strconv.Itoa(txn.ConnectorID),
		"transactionId": strconv.Itoa(txn.ID),
		"meterStart":    strconv.FormatFloat(txn.MeterStart, 'f', 1, 64),
		"meterStop":     strconv.FormatFloat(txn.MeterStop, 'f', 1, 64),
		"duration":      txn.Duration(txn.StoppedAt).Truncate(time.Second).String(),
	})
}

func (a *Adapter) exec(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "startTransaction", "remoteStartTransaction":
		connectorID, ok := intParam(params["connectorId"])
		if !ok {
			return nil, fmt.Errorf("startTransaction needs connectorId: %w", types.ErrProtocolViolation)
		}
		idTag, _ := params["idTag"].(string)
		txn, err := a.StartTransaction(connectorID, idTag)
		if err != nil {
			return nil, err
		}
		return map[string]any{"transactionId": txn.ID, "connectorId": connectorID}, nil
	case "stopTransaction", "remoteStopTransaction":
		connectorID, ok := intParam(params["connectorId"])
		if !ok {
			return nil, fmt.Errorf("stopTransaction needs connectorId: %w", types.ErrProtocolViolation)
		}
		txn, err := a.StopTransaction(connectorID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"transactionId": txn.ID,
			"meterStart":    txn.MeterStart,
			"meterStop":     txn.MeterStop,
		}, nil
	case "changeAvailability":
		connectorID, ok := intParam(params["connectorId"])
		if !ok {
			return nil, fmt.Errorf("changeAvailability needs connectorId: %w", types.ErrProtocolViolation)
		}
		kind, _ := params["type"].(string)
		status := StatusAvailable
		if kind == "Inoperative" {
			status = StatusUnavailable
		}
		if err := a.connectors.setStatus(connectorID, status); err != nil {
			return nil, err
		}
		return map[string]any{"connectorId": connectorID, "status": string(status)}, nil
	case "reset":
		if err := a.Disconnect(); err != nil {
			return nil, err
		}
		if err := a.Connect(); err != nil {
			return nil, err
		}
		return map[string]any{"status": "Accepted"}, nil
	case "status":
		snapshot := a.connectors.snapshot()
		connectors := make(map[string]any, len(snapshot))
		for id, status := range snapshot {
			connectors[strconv.Itoa(id)] = string(status)
		}
		return map[string]any{"connectors": connectors}, nil
	default:
		return nil, fmt.Errorf("unsupported command %q: %w", command, types.ErrProtocolViolation)
	}
}

func intParam(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func canonicalUnits(readings map[string]float64) map[string]string {
	units := make(map[string]string, len(readings))
	for name := range readings {
		if unit, ok := types.CanonicalChannels[name]; ok {
			units[name] = unit
		}
	}
	return units
}
