// Package messaging moves power signals and delivery stats between the
// components of the reminder service.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/power"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL BUS
// ══════════════════════════════════════════════════════════════════════════════

// SignalBus fans in power transitions from every source (sysfs monitor,
// Redis channel, HTTP) into one bounded queue read by a single consumer.
type SignalBus struct {
	ch      chan power.Transition
	logger  *slog.Logger
	metrics *BusMetrics

	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
}

// SignalBusConfig contains configuration for SignalBus.
type SignalBusConfig struct {
	// BufferSize is the queue capacity. Publishers block when it is full.
	BufferSize int

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultSignalBusConfig returns sensible defaults.
func DefaultSignalBusConfig() SignalBusConfig {
	return SignalBusConfig{BufferSize: 64}
}

// NewSignalBus creates a new signal bus.
func NewSignalBus(config SignalBusConfig) *SignalBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	return &SignalBus{
		ch:      make(chan power.Transition, config.BufferSize),
		logger:  config.Logger.With("component", "signal_bus"),
		metrics: NewBusMetrics(),
		closeCh: make(chan struct{}),
	}
}

// Publish enqueues a transition. It blocks while the queue is full until
// ctx is done or the bus is closed.
func (b *SignalBus) Publish(ctx context.Context, t power.Transition) error {
	if !t.Signal.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedSignal, t.Signal)
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case b.ch <- t:
		b.metrics.RecordPublish(string(t.Signal))
		b.logger.Debug("signal published", "signal", t.Signal, "source", t.Source)
		return nil
	case <-b.closeCh:
		return ErrBusClosed
	case <-ctx.Done():
		b.metrics.RecordDrop(string(t.Signal))
		return ctx.Err()
	}
}

// Signals returns the receive side. The channel is never closed; consumers
// stop on Done.
func (b *SignalBus) Signals() <-chan power.Transition {
	return b.ch
}

// Done is closed when the bus is closed.
func (b *SignalBus) Done() <-chan struct{} {
	return b.closeCh
}

// Close stops accepting signals.
func (b *SignalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.closeCh)

	b.logger.Info("signal bus closed", "pending", len(b.ch))
	return nil
}

// Metrics returns the bus counters.
func (b *SignalBus) Metrics() *BusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// BusMetrics counts published and dropped messages per topic.
type BusMetrics struct {
	mu        sync.RWMutex
	published map[string]int64
	dropped   map[string]int64
}

// NewBusMetrics creates new metrics tracker.
func NewBusMetrics() *BusMetrics {
	return &BusMetrics{
		published: make(map[string]int64),
		dropped:   make(map[string]int64),
	}
}

// RecordPublish records a delivered message.
func (m *BusMetrics) RecordPublish(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic]++
}

// RecordDrop records a message that was not delivered.
func (m *BusMetrics) RecordDrop(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[topic]++
}

// Snapshot returns a copy of current metrics.
func (m *BusMetrics) Snapshot() BusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := BusMetricsSnapshot{
		Published: make(map[string]int64, len(m.published)),
		Dropped:   make(map[string]int64, len(m.dropped)),
	}
	for k, v := range m.published {
		s.Published[k] = v
		s.TotalPublished += v
	}
	for k, v := range m.dropped {
		s.Dropped[k] = v
		s.TotalDropped += v
	}
	return s
}

// BusMetricsSnapshot is a point-in-time snapshot of metrics.
type BusMetricsSnapshot struct {
	TotalPublished int64            `json:"total_published"`
	TotalDropped   int64            `json:"total_dropped"`
	Published      map[string]int64 `json:"published"`
	Dropped        map[string]int64 `json:"dropped"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("bus is closed")

	// ErrUnsupportedSignal is returned for signals outside the vocabulary.
	ErrUnsupportedSignal = errors.New("signal not supported")
)
