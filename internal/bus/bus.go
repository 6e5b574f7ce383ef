// Package bus is the agent's in-process typed publish/subscribe backbone.
// Every subscriber owns a bounded FIFO queue serviced by its own
// goroutine, so a slow subscriber can never block the publisher (the
// capture or AI threads) and delivery order within a subscriber always
// matches publication order.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("bus")

// queueDepth is the bound on each subscriber's pending-event queue
// (spec.md §4.1: "bounded per-topic queues, ≤1024 events").
const queueDepth = 1024

// Event is a single bus message: a topic tag plus an opaque payload.
// Handlers type-assert Payload to the concrete type documented for Topic.
type Event struct {
	Topic   string
	Payload any
}

// Handler processes one event. It MUST return promptly: it runs on the
// subscriber's own dispatch goroutine and blocking it only delays that
// subscriber's own queue, never the publisher or other subscribers.
type Handler func(Event)

// ErrClosedBus is returned by Subscribe after the bus has been shut down.
type ErrClosedBus struct{}

func (ErrClosedBus) Error() string { return "bus: closed" }

// Bus is a process-singleton collaborator, constructed explicitly and
// passed into components rather than used as ambient global state so
// tests can substitute a fresh instance per case.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool

	dropped sync.Map // topic -> *atomic.Uint64
}

type subscriber struct {
	queue chan Event
	stop  chan struct{}
	once  sync.Once
}

// New creates an empty, running bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers handler to be invoked, in FIFO order, for every
// event published to topic after this call returns. Each subscriber gets
// its own dispatch goroutine and bounded queue.
func (b *Bus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosedBus{}
	}

	sub := &subscriber{
		queue: make(chan Event, queueDepth),
		stop:  make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go sub.dispatch(handler)
	return nil
}

func (s *subscriber) dispatch(handler Handler) {
	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			handler(ev)
		case <-s.stop:
			return
		}
	}
}

// Publish delivers an event to every current subscriber of topic. It
// never blocks: a subscriber whose queue is full has its oldest pending
// event dropped to make room (drop-oldest overflow policy) and a
// per-topic counter is incremented. Publish to a topic with no
// subscribers is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	ev := Event{Topic: topic, Payload: payload}
	for _, s := range subs {
		b.enqueue(s, topic, ev)
	}
}

func (b *Bus) enqueue(s *subscriber, topic string, ev Event) {
	select {
	case s.queue <- ev:
		return
	default:
	}

	// Queue full: drop the oldest pending event, then retry once. If a
	// concurrent dispatch drained it first, the retry just succeeds.
	select {
	case <-s.queue:
		b.countDrop(topic)
	default:
	}

	select {
	case s.queue <- ev:
	default:
		// Dispatcher raced us and refilled the queue; count this event
		// as the drop instead of blocking the publisher.
		b.countDrop(topic)
	}
}

func (b *Bus) countDrop(topic string) {
	v, _ := b.dropped.LoadOrStore(topic, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1)
	if n == 1 || n%100 == 0 {
		log.Warn("subscriber queue overflow, dropped oldest event", "topic", topic, "totalDropped", n)
	}
}

// Dropped returns the number of events dropped for topic due to
// subscriber queue overflow since the bus was created.
func (b *Bus) Dropped(topic string) uint64 {
	v, ok := b.dropped.Load(topic)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

// Shutdown stops all subscriber dispatch goroutines and marks the bus
// closed: further Subscribe calls fail with ErrClosedBus. Safe to call
// more than once.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, s := range subs {
			s.once.Do(func() { close(s.stop) })
		}
	}
}
