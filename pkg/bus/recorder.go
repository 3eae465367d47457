package bus

import (
	"sync"
	"time"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// Recorded is one message captured by a Recorder
type Recorded struct {
	Topic   string
	Message *types.Message
}

// Recorder is the development-mode broker tap: it subscribes to a
// filter, keeps every matched message, and feeds registered listeners.
// Adapters are exercised against it without any external broker; the
// test suites use it to assert on bus traffic.
type Recorder struct {
	bus *Bus
	sub *Subscription

	mu        sync.Mutex
	messages  []Recorded
	listeners []func(topic string, msg *types.Message)
	notify    chan struct{}
}

// NewRecorder attaches a recorder to the bus under the given filter
func NewRecorder(b *Bus, filter string) (*Recorder, error) {
	r := &Recorder{
		bus:    b,
		notify: make(chan struct{}, 1),
	}
	sub, err := b.Subscribe(filter, r.record)
	if err != nil {
		return nil, err
	}
	r.sub = sub
	return r, nil
}

func (r *Recorder) record(topic string, msg *types.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, Recorded{Topic: topic, Message: msg})
	listeners := make([]func(string, *types.Message), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(topic, msg)
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// AddListener registers an external listener invoked for every
// captured message, in capture order
func (r *Recorder) AddListener(fn func(topic string, msg *types.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Messages returns a copy of everything captured so far
func (r *Recorder) Messages() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.messages))
	copy(out, r.messages)
	return out
}

// Count returns the number of captured messages
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Reset discards everything captured so far
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// WaitFor blocks until at least n messages have been captured or the
// timeout elapses. Returns true when the count was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Count() >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Count() >= n
		}
	}
}

// WaitMatch blocks until a captured message satisfies pred or the
// timeout elapses
func (r *Recorder) WaitMatch(pred func(Recorded) bool, timeout time.Duration) (Recorded, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	seen := 0
	for {
		msgs := r.Messages()
		for ; seen < len(msgs); seen++ {
			if pred(msgs[seen]) {
				return msgs[seen], true
			}
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return Recorded{}, false
		}
	}
}

// Close detaches the recorder from the bus
func (r *Recorder) Close() {
	r.bus.Unsubscribe(r.sub)
}
