package messaging

import (
	"log/slog"
	"sync"
)

// Broadcaster delivers every published value to all current subscribers.
// Slow subscribers lose the oldest undelivered value rather than blocking
// the publisher; each subscriber always ends up holding the latest value.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]chan T
	nextID  uint64
	closed  bool
	topic   string
	logger  *slog.Logger
	metrics *BusMetrics
}

// NewBroadcaster creates a broadcaster for the named topic.
func NewBroadcaster[T any](topic string, logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subs:    make(map[uint64]chan T),
		topic:   topic,
		logger:  logger.With("component", "broadcaster", "topic", topic),
		metrics: NewBusMetrics(),
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unsubscribes and closes the channel; it is safe to call twice.
func (b *Broadcaster[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish sends v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}

		// Buffer full: drop the oldest value and retry once.
		select {
		case <-ch:
			b.metrics.RecordDrop(b.topic)
		default:
		}
		select {
		case ch <- v:
		default:
			b.metrics.RecordDrop(b.topic)
		}
	}
	b.metrics.RecordPublish(b.topic)
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes all subscriber channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.logger.Debug("broadcaster closed")
}

// Metrics returns publish/drop counters.
func (b *Broadcaster[T]) Metrics() *BusMetrics {
	return b.metrics
}
