package ocpp

import (
	"fmt"
	"sync"
	"time"

	"github.com/voltgrid/voltgrid/pkg/metrics"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// ConnectorStatus is the OCPP connector state
type ConnectorStatus string

const (
	StatusAvailable     ConnectorStatus = "Available"
	StatusPreparing     ConnectorStatus = "Preparing"
	StatusCharging      ConnectorStatus = "Charging"
	StatusSuspendedEV   ConnectorStatus = "SuspendedEV"
	StatusSuspendedEVSE ConnectorStatus = "SuspendedEVSE"
	StatusFinishing     ConnectorStatus = "Finishing"
	StatusReserved      ConnectorStatus = "Reserved"
	StatusUnavailable   ConnectorStatus = "Unavailable"
	StatusFaulted       ConnectorStatus = "Faulted"
)

var validStatuses = map[ConnectorStatus]bool{
	StatusAvailable: true, StatusPreparing: true, StatusCharging: true,
	StatusSuspendedEV: true, StatusSuspendedEVSE: true, StatusFinishing: true,
	StatusReserved: true, StatusUnavailable: true, StatusFaulted: true,
}

// Transaction is one charging session on a connector
type Transaction struct {
	ID          int       `json:"transactionId"`
	ConnectorID int       `json:"connectorId"`
	IDTag       string    `json:"idTag,omitempty"`
	MeterStart  float64   `json:"meterStart"`
	MeterStop   float64   `json:"meterStop,omitempty"`
	EnergyWh    float64   `json:"energyWh"`
	PowerW      float64   `json:"powerW"`
	StartedAt   time.Time `json:"startedAt"`
	StoppedAt   time.Time `json:"stoppedAt,omitempty"`
	Ended       bool      `json:"ended"`
}

// Duration returns how long the transaction has been running
func (t *Transaction) Duration(now time.Time) time.Duration {
	if t.Ended {
		return t.StoppedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// Connector is one charge point connector with its optional running
// transaction. CurrentTransaction is non-nil iff a non-ended
// transaction exists.
type Connector struct {
	ID                 int
	Status             ConnectorStatus
	CurrentTransaction *Transaction
}

// connectorTable holds the charge point's connectors and allocates
// transaction ids
type connectorTable struct {
	mu         sync.Mutex
	connectors map[int]*Connector
	nextTxnID  int
}

func newConnectorTable(count int) *connectorTable {
	if count <= 0 {
		count = 1
	}
	t := &connectorTable{
		connectors: make(map[int]*Connector, count),
		nextTxnID:  1,
	}
	for i := 1; i <= count; i++ {
		t.connectors[i] = &Connector{ID: i, Status: StatusAvailable}
	}
	return t
}

// get returns a copy of the connector's state
func (t *connectorTable) get(id int) (Connector, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connectors[id]
	if !ok {
		return Connector{}, fmt.Errorf("connector %d: %w", id, types.ErrInvalidConnector)
	}
	out := *c
	if c.CurrentTransaction != nil {
		txn := *c.CurrentTransaction
		out.CurrentTransaction = &txn
	}
	return out, nil
}

// setStatus applies a remote status notification
func (t *connectorTable) setStatus(id int, status ConnectorStatus) error {
	if !validStatuses[status] {
		return fmt.Errorf("connector %d: unknown status %q: %w", id, status, types.ErrProtocolViolation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connectors[id]
	if !ok {
		return fmt.Errorf("connector %d: %w", id, types.ErrInvalidConnector)
	}
	c.Status = status
	return nil
}

// start begins a transaction; the connector must be Available
func (t *connectorTable) start(id int, idTag string, meterStart float64, now time.Time) (Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connectors[id]
	if !ok {
		return Transaction{}, fmt.Errorf("connector %d: %w", id, types.ErrInvalidConnector)
	}
	if c.CurrentTransaction != nil {
		return Transaction{}, fmt.Errorf("connector %d: %w", id, types.ErrTransactionActive)
	}
	if c.Status != StatusAvailable && c.Status != StatusPreparing {
		return Transaction{}, fmt.Errorf("connector %d is %s: %w", id, c.Status, types.ErrInvalidConnector)
	}

	txn := &Transaction{
		ID:          t.nextTxnID,
		ConnectorID: id,
		IDTag:       idTag,
		MeterStart:  meterStart,
		StartedAt:   now,
	}
	t.nextTxnID++
	c.CurrentTransaction = txn
	c.Status = StatusCharging
	metrics.TransactionsActive.Inc()
	return *txn, nil
}

// advance updates the running transaction's meter figures
func (t *connectorTable) advance(id int, energyWh, powerW float64) (Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connectors[id]
	if !ok {
		return Transaction{}, fmt.Errorf("connector %d: %w", id, types.ErrInvalidConnector)
	}
	if c.CurrentTransaction == nil {
		return Transaction{}, fmt.Errorf("connector %d: %w", id, types.ErrNoActiveTransaction)
	}
	c.CurrentTransaction.EnergyWh = energyWh
	c.CurrentTransaction.PowerW = powerW
	return *c.CurrentTransaction, nil
}

// stop ends the running transaction and returns it
func (t *connectorTable) stop(id int, meterStop float64, now time.Time) (Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connectors[id]
	if !ok {
		return Transaction{}, fmt.Errorf("connector %d: %w", id, types.ErrInvalidConnector)
	}
	txn := c.CurrentTransaction
	if txn == nil {
		return Transaction{}, fmt.Errorf("connector %d: %w", id, types.ErrNoActiveTransaction)
	}

	txn.MeterStop = meterStop
	txn.StoppedAt = now
	txn.Ended = true
	c.CurrentTransaction = nil
	c.Status = StatusAvailable
	metrics.TransactionsActive.Dec()
	return *txn, nil
}

// active returns the ids of connectors with a running transaction
func (t *connectorTable) active() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int
	for id, c := range t.connectors {
		if c.CurrentTransaction != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// snapshot returns per-connector status for composite reporting
func (t *connectorTable) snapshot() map[int]ConnectorStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]ConnectorStatus, len(t.connectors))
	for id, c := range t.connectors {
		out[id] = c.Status
	}
	return out
}
