package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Payload is one domain event crossing the bus.
type Payload struct {
	Type      string
	Data      any
	Source    string
	Timestamp time.Time
	Metadata  map[string]string
}

// HandlerFunc receives emitted events. Handlers run synchronously on the
// emitter's goroutine; a panicking handler is isolated from its siblings.
type HandlerFunc func(p Payload)

type subscriber struct {
	id int
	fn HandlerFunc
}

// Bus is an in-process, subscribe-by-type event bus. It is an explicit
// instance so tests can run isolated buses.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string][]subscriber
	byID   map[int]string
	nextID int
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string][]subscriber),
		byID:   make(map[int]string),
	}
}

// Subscribe registers a handler for an event type (Wildcard for all).
// The returned id can be passed to Unsubscribe.
func (b *Bus) Subscribe(eventType string, fn HandlerFunc) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: b.nextID, fn: fn})
	b.byID[b.nextID] = eventType
	return b.nextID
}

// Unsubscribe removes one subscription by id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	list := b.subs[eventType]
	for i, s := range list {
		if s.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, eventType)
	} else {
		b.subs[eventType] = list
	}
}

// Emit publishes an event to type subscribers and wildcard subscribers,
// in subscription order, stamped with the emission time.
func (b *Bus) Emit(eventType string, data any, source string, metadata map[string]string) {
	p := Payload{
		Type:      eventType,
		Data:      data,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.subs[eventType])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[eventType]...)
	if eventType != Wildcard {
		targets = append(targets, b.subs[Wildcard]...)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, p)
	}
}

func (b *Bus) deliver(s subscriber, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event handler panicked", "event_type", p.Type, "panic", r)
		}
	}()
	s.fn(p)
}
