package events

import (
	"sync"

	"github.com/mikerobots/cube-builder/logging"
)

type subscription struct {
	id uint64
	fn func(Event)
}

// Bus delivers events to subscribers synchronously, on the publishing goroutine, in the order
// the subscriptions were made. Handlers run without the bus lock held, so they may publish or
// unsubscribe.
type Bus struct {
	logger logging.Logger

	mu     sync.Mutex
	nextID uint64
	subs   [numKinds + 1][]subscription
}

// allKinds is the slot for SubscribeAll.
const allKinds = numKinds

// NewBus returns an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{logger: logger.Sublogger("events")}
}

// Publish delivers e to the subscribers of its kind, then to the catch-all subscribers. A
// panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := make([]subscription, 0, len(b.subs[e.Kind()])+len(b.subs[allKinds]))
	subs = append(subs, b.subs[e.Kind()]...)
	subs = append(subs, b.subs[allKinds]...)
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("event handler panicked", "kind", e.Kind(), "panic", r)
		}
	}()
	s.fn(e)
}

// SubscribeAll registers fn for every event and returns a function that removes it.
func (b *Bus) SubscribeAll(fn func(Event)) func() {
	return b.subscribe(allKinds, fn)
}

func (b *Bus) subscribe(k Kind, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[k] = append(b.subs[k], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[k]
			for i, s := range subs {
				if s.id == id {
					b.subs[k] = append(subs[:i:i], subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribe registers fn for events of type T and returns a function that removes it.
func Subscribe[T Event](b *Bus, fn func(T)) func() {
	var zero T
	return b.subscribe(zero.Kind(), func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}
