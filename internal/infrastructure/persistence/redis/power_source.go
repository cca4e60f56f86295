package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/power"
)

// PowerMessage is what device agents publish on ChannelPower.
//
//	{"signal":"power_save_mode_changed","power_save_on":false,"source":"pixel-7"}
type PowerMessage struct {
	Signal      string `json:"signal"`
	PowerSaveOn bool   `json:"power_save_on,omitempty"`
	Source      string `json:"source,omitempty"`
	// At is epoch milliseconds; zero means "now".
	At int64 `json:"at,omitempty"`
}

// Transition validates the message and converts it.
func (m PowerMessage) Transition() (power.Transition, error) {
	signal, err := power.ParseSignal(m.Signal)
	if err != nil {
		return power.Transition{}, err
	}

	source := m.Source
	if source == "" {
		source = "redis"
	}
	t := power.NewTransition(signal, source)
	if signal == power.SignalPowerSaveModeChanged {
		t.PowerSaveOn = m.PowerSaveOn
	}
	if m.At > 0 {
		t.At = time.UnixMilli(m.At).UTC()
	}
	return t, nil
}

// DecodePowerMessage parses a raw pub/sub payload.
func DecodePowerMessage(payload string) (power.Transition, error) {
	var m PowerMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return power.Transition{}, fmt.Errorf("decode power message: %w", err)
	}
	return m.Transition()
}

// TransitionSink accepts decoded transitions.
type TransitionSink interface {
	Publish(ctx context.Context, t power.Transition) error
}

// PowerSignalSource forwards power signals from Redis into the signal bus.
type PowerSignalSource struct {
	client *Client
	sink   TransitionSink
	logger *slog.Logger
}

// NewPowerSignalSource creates a source.
func NewPowerSignalSource(client *Client, sink TransitionSink, logger *slog.Logger) *PowerSignalSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PowerSignalSource{
		client: client,
		sink:   sink,
		logger: logger.With("component", "redis_power_source", "channel", ChannelPower),
	}
}

// Run subscribes and forwards messages until ctx is done. Malformed
// messages are logged and skipped.
func (s *PowerSignalSource) Run(ctx context.Context) error {
	pubsub := s.client.rdb.Subscribe(ctx, ChannelPower)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelPower, err)
	}
	s.logger.Info("listening for power signals")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}

			t, err := DecodePowerMessage(msg.Payload)
			if err != nil {
				s.logger.Warn("skipping malformed power message", "error", err)
				continue
			}
			if err := s.sink.Publish(ctx, t); err != nil {
				s.logger.Warn("failed to forward power signal", "signal", t.Signal, "error", err)
			}
		}
	}
}
