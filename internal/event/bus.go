package event

import (
	"sync"
	"time"
)

// Bus fans lifecycle events out to subscribers synchronously. A panicking
// listener is isolated so it cannot break delivery to the others or the
// emitting operation.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(Event)
	clock     func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		listeners: make(map[int]func(Event)),
		clock:     time.Now,
	}
}

// SetClock overrides the event timestamp clock. Test hook.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.clock = now
	b.mu.Unlock()
}

// Subscribe registers a listener and returns its subscription ID.
func (b *Bus) Subscribe(fn func(Event)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	return id
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

// Publish stamps the event and delivers it to every subscriber in turn.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	if evt.At.IsZero() {
		evt.At = b.clock().UTC()
	}
	fns := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		deliver(fn, evt)
	}
}

func deliver(fn func(Event), evt Event) {
	defer func() {
		_ = recover()
	}()
	fn(evt)
}
