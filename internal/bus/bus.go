// Package bus provides the typed notification bus that tells renderers about
// chat history and script changes.
package bus

import (
	"log/slog"
	"sync"
)

// Handler receives events.
type Handler func(Event)

type subscriber struct {
	fn Handler
}

// Bus fans events out to subscribers. Delivery is synchronous and ordered:
// events are delivered one at a time in the order they were enqueued, and a
// handler may publish or call back into its publisher without deadlocking,
// because nested events are queued behind the one being delivered.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
	all  []*subscriber

	qmu      sync.Mutex
	queue    []Event
	draining bool
	stopped  bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Topic][]*subscriber),
	}
}

// Subscribe registers h for one topic and returns a function removing it.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	sub := &subscriber{fn: h}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[topic] = without(b.subs[topic], sub)
	}
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) func() {
	sub := &subscriber{fn: h}
	b.mu.Lock()
	b.all = append(b.all, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, sub)
	}
}

// On registers a handler for the event type T.
func On[T Event](b *Bus, h func(T)) func() {
	var zero T
	return b.Subscribe(zero.Topic(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			h(typed)
		}
	})
}

// Publish enqueues ev and delivers everything queued.
func (b *Bus) Publish(ev Event) {
	b.Enqueue(ev)
	b.Drain()
}

// Enqueue appends ev to the delivery queue without delivering it. Publishers
// that mutate state under their own lock enqueue while holding it and call
// Drain after releasing it, which keeps delivery order equal to mutation
// order.
func (b *Bus) Enqueue(ev Event) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.stopped || ev == nil {
		return
	}
	b.queue = append(b.queue, ev)
}

// Drain delivers queued events. If another goroutine is already draining,
// Drain returns immediately and that goroutine delivers the events.
func (b *Bus) Drain() {
	b.qmu.Lock()
	if b.draining {
		b.qmu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.qmu.Unlock()
		b.deliver(ev)
		b.qmu.Lock()
	}
	b.draining = false
	b.qmu.Unlock()
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	handlers := make([]*subscriber, 0, len(b.subs[ev.Topic()])+len(b.all))
	handlers = append(handlers, b.subs[ev.Topic()]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		callHandler(h.fn, ev)
	}
}

func callHandler(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Bus: handler panicked", "topic", ev.Topic(), "panic", r)
		}
	}()
	fn(ev)
}

// Stop drops queued events and ignores further ones.
func (b *Bus) Stop() {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	b.stopped = true
	b.queue = nil
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

func without(list []*subscriber, sub *subscriber) []*subscriber {
	for i, s := range list {
		if s == sub {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
