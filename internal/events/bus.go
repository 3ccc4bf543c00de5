package events

import (
	"log/slog"
	"sync"
	"time"

	"alertdesk/internal/model"
)

// Event is one normalized stream entity delivered to subscribers.
type Event struct {
	Name    string
	Payload model.Payload
	At      time.Time
}

type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus fans events out to handlers registered per event name, in
// registration order.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[string][]subscription), logger: logger}
}

// Subscribe registers fn for name. The returned func removes it; calling it
// more than once is a no-op.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[name]
	for i, s := range list {
		if s.id == id {
			next := make([]subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, name)
			} else {
				b.subs[name] = next
			}
			return
		}
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	list := b.subs[ev.Name]
	b.mu.Unlock()
	for _, s := range list {
		b.call(s.fn, ev)
	}
}

func (b *Bus) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	fn(ev)
}

func (b *Bus) Count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
