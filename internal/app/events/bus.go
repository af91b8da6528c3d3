package events

import (
	"sync"

	"github.com/arzex/exchange-core/pkg/logger"
)

// Bus is a small in-process pub/sub fan-out. Publish never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// logged, which keeps notification delivery out of the ledger's critical
// path.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
	log    *logger.Logger
}

// NewBus creates an event bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Bus{log: log}
}

// Subscribe registers a consumer and returns its channel. The buffer bounds
// how far the consumer may lag before events are dropped for it.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.log.WithField("kind", event.Kind()).Warn("subscriber lagging; event dropped")
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
