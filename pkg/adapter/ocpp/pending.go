package ocpp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voltgrid/voltgrid/pkg/metrics"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// DefaultCallTimeout bounds how long an outgoing call waits for its
// CallResult before the pending entry is purged
const DefaultCallTimeout = 30 * time.Second

type callOutcome struct {
	payload json.RawMessage
	err     error
}

// pendingCalls correlates outgoing call message ids with their
// responses. Each entry is purged on resolve, on timeout, and in bulk
// when the wire drops.
type pendingCalls struct {
	mu      sync.Mutex
	waiting map[string]chan callOutcome
	timeout time.Duration
}

func newPendingCalls(timeout time.Duration) *pendingCalls {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &pendingCalls{
		waiting: make(map[string]chan callOutcome),
		timeout: timeout,
	}
}

// register creates the pending entry for a fresh message id
func (p *pendingCalls) register(id string) chan callOutcome {
	ch := make(chan callOutcome, 1)
	p.mu.Lock()
	p.waiting[id] = ch
	metrics.OCPPCallsPending.Set(float64(len(p.waiting)))
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) remove(id string) (chan callOutcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiting[id]
	if ok {
		delete(p.waiting, id)
		metrics.OCPPCallsPending.Set(float64(len(p.waiting)))
	}
	return ch, ok
}

// wait blocks for the call outcome or the table timeout
func (p *pendingCalls) wait(id string, ch chan callOutcome) (json.RawMessage, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.payload, out.err
	case <-timer.C:
		p.remove(id)
		metrics.OCPPCallTimeouts.Inc()
		return nil, fmt.Errorf("call %s: %w", id, types.ErrTimeout)
	}
}

// resolve completes a pending call with its CallResult payload
func (p *pendingCalls) resolve(id string, payload json.RawMessage) bool {
	ch, ok := p.remove(id)
	if !ok {
		return false
	}
	ch <- callOutcome{payload: payload}
	return true
}

// reject completes a pending call with a CallError
func (p *pendingCalls) reject(id string, err error) bool {
	ch, ok := p.remove(id)
	if !ok {
		return false
	}
	ch <- callOutcome{err: err}
	return true
}

// failAll rejects every pending call; used when the wire drops
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[string]chan callOutcome)
	metrics.OCPPCallsPending.Set(0)
	p.mu.Unlock()

	for _, ch := range waiting {
		ch <- callOutcome{err: err}
	}
}
