package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
)

// Subscription receives events published on a Bus
type Subscription struct {
	C <-chan model.Event

	ch     chan model.Event
	bus    *Bus
	id     int
	types  map[model.EventType]bool
	closed bool
}

// Close detaches the subscription and closes its channel
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) wants(t model.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is an in-process fire-and-forget event bus. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	nextID int
	subs   map[int]*Subscription
}

// New creates a bus whose subscriptions buffer up to buffer events
func New(logger *zap.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		logger: logger.Named("event-bus"),
		buffer: buffer,
		subs:   make(map[int]*Subscription),
	}
}

// Subscribe registers a subscriber for the given event types, or for all
// events when none are given.
func (b *Bus) Subscribe(types ...model.EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, b.buffer)
	sub := &Subscription{
		C:     ch,
		ch:    ch,
		bus:   b,
		id:    b.nextID,
		types: make(map[model.EventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subs[sub.id] = sub
	b.nextID++
	return sub
}

// Publish delivers evt to every interested subscriber without waiting
func (b *Bus) Publish(evt model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	for _, sub := range b.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			metrics.EventsDropped.Inc()
			b.logger.Warn("Subscriber buffer full, dropping event",
				zap.Int("subscriber", sub.id),
				zap.String("type", string(evt.Type)))
		}
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Close detaches all subscribers
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		sub.closed = true
		close(sub.ch)
		delete(b.subs, id)
	}
}
