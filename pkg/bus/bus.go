package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/metrics"
	"github.com/voltgrid/voltgrid/pkg/types"
)

// DefaultQueueDepth is the per-subscriber queue bound applied to
// telemetry traffic. Status and command traffic is never dropped and
// is not counted against the bound.
const DefaultQueueDepth = 256

// Handler is invoked for every published message whose topic matches
// the subscription filter. Handlers run on the subscription's own
// dispatch goroutine, never on the publisher's.
type Handler func(topic string, msg *types.Message)

type delivery struct {
	topic string
	msg   *types.Message
}

// Subscription is a live registration on the bus. It owns a dispatch
// goroutine and a bounded queue that isolates its handler from
// publishers and from other subscribers.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []delivery
	depth  int
	closed bool
	done   chan struct{}

	logger zerolog.Logger
}

// Topic returns the subscription's filter
func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) push(topic string, msg *types.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if msg.MessageType == types.MessageTelemetry && len(s.queue) >= s.depth {
		// Slow subscriber: shed the oldest queued telemetry so the
		// queue stays bounded. Status and command messages stay.
		for i := range s.queue {
			if s.queue[i].msg.MessageType == types.MessageTelemetry {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				metrics.BusMessagesDropped.Inc()
				break
			}
		}
	}
	s.queue = append(s.queue, delivery{topic: topic, msg: msg})
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.queue = nil
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.invoke(d)
	}
}

// invoke runs the handler with panic isolation: a misbehaving handler
// never prevents delivery to other subscriptions of the same message.
func (s *Subscription) invoke(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("topic", d.topic).
				Msg("Subscriber handler panicked")
		}
	}()
	s.handler(d.topic, d.msg)
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
	<-s.done
}

// Bus is the in-process publish/subscribe fabric. All components of
// the connectivity plane integrate through it; it carries no state
// across restarts and does no cross-process routing.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger zerolog.Logger
}

// New creates a new bus
func New() *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: log.WithComponent("bus"),
	}
}

// Subscribe registers a handler for every topic matching the filter.
// Multiple subscriptions on the same filter are independent; each gets
// its own queue and dispatch goroutine.
func (b *Bus) Subscribe(filter string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler for filter %q", filter)
	}
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, types.ErrBusClosed
	}

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		topic:   filter,
		handler: handler,
		depth:   DefaultQueueDepth,
		done:    make(chan struct{}),
		logger:  b.logger,
	}
	sub.cond = sync.NewCond(&sub.mu)
	b.subs[sub.id] = sub
	metrics.BusSubscribers.Inc()

	go sub.run()
	return sub, nil
}

// Unsubscribe removes a subscription and stops its dispatch goroutine.
// Idempotent; safe with nil.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	metrics.BusSubscribers.Dec()
	sub.close()
}

// Publish delivers msg to every matching subscription. It fills in a
// message id if the producer did not, but never rewrites a producer's
// timestamp. Publish enqueues and returns; it does not wait for any
// handler and never blocks on a slow subscriber.
func (b *Bus) Publish(topic string, msg *types.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message on topic %q", topic)
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return types.ErrBusClosed
	}
	for _, sub := range b.subs {
		if Matches(sub.topic, topic) {
			sub.push(topic, msg)
		}
	}
	b.mu.RUnlock()

	metrics.BusMessagesPublished.WithLabelValues(string(msg.MessageType)).Inc()
	return nil
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down. Subsequent Publish and Subscribe calls
// fail with ErrBusClosed; all dispatch goroutines are stopped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		metrics.BusSubscribers.Dec()
	}
}
