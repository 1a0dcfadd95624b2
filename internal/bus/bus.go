package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus fans daemon events out to in-process consumers. Consumers pick events
// by kind prefix; a consumer that falls behind loses events rather than
// stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*consumer
	next   uint64
	closed bool
}

type consumer struct {
	prefix  string
	ch      chan Event
	dropped atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*consumer)}
}

// Publish delivers evt to every consumer whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.subs {
		if !strings.HasPrefix(evt.Kind, c.prefix) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			c.dropped.Add(1)
		}
	}
}

// Subscription is a consumer's handle on the bus.
type Subscription struct {
	C      <-chan Event
	bus    *Bus
	id     uint64
	target *consumer
}

// Subscribe registers a consumer for kinds starting with prefix. The channel
// is closed by Cancel or by Close on the bus.
func (b *Bus) Subscribe(prefix string, size int) *Subscription {
	c := &consumer{prefix: prefix, ch: make(chan Event, size)}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.closed {
		close(c.ch)
	} else {
		b.subs[id] = c
	}
	return &Subscription{C: c.ch, bus: b, id: id, target: c}
}

// Dropped returns how many events this consumer missed.
func (s *Subscription) Dropped() uint64 {
	return s.target.dropped.Load()
}

// Cancel unregisters the consumer. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if c, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(c.ch)
	}
}

// Close unregisters every consumer.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.subs {
		delete(b.subs, id)
		close(c.ch)
	}
}
