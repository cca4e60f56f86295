package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/pkg/logger"
)

func TestSignalBus_PublishAndConsume(t *testing.T) {
	bus := NewSignalBus(SignalBusConfig{BufferSize: 2, Logger: logger.Discard()})
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, power.NewTransition(power.SignalBatteryOkay, "test")))
	require.NoError(t, bus.Publish(ctx, power.Transition{Signal: power.SignalPowerConnected}))

	first := <-bus.Signals()
	second := <-bus.Signals()
	assert.Equal(t, power.SignalBatteryOkay, first.Signal)
	assert.Equal(t, power.SignalPowerConnected, second.Signal)
	assert.False(t, second.At.IsZero())

	assert.Equal(t, int64(2), bus.Metrics().Snapshot().TotalPublished)
}

func TestSignalBus_RejectsUnknownSignal(t *testing.T) {
	bus := NewSignalBus(SignalBusConfig{Logger: logger.Discard()})
	defer bus.Close()

	err := bus.Publish(context.Background(), power.Transition{Signal: "screen_on"})
	assert.ErrorIs(t, err, ErrUnsupportedSignal)
}

func TestSignalBus_FullQueueHonoursContext(t *testing.T) {
	bus := NewSignalBus(SignalBusConfig{BufferSize: 1, Logger: logger.Discard()})
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), power.NewTransition(power.SignalBatteryLow, "test")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, power.NewTransition(power.SignalBatteryOkay, "test"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().TotalDropped)
}

func TestSignalBus_Closed(t *testing.T) {
	config := DefaultSignalBusConfig()
	config.Logger = logger.Discard()
	bus := NewSignalBus(config)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), power.NewTransition(power.SignalBatteryOkay, "test"))
	assert.ErrorIs(t, err, ErrBusClosed)

	select {
	case <-bus.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestBroadcaster_KeepsLatestForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster[int]("test", logger.Discard())

	ch, cancel := b.Subscribe(1)
	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	assert.Equal(t, 3, <-ch)
	assert.Equal(t, int64(2), b.Metrics().Snapshot().TotalDropped)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster[string]("test", logger.Discard())
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Close()
	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
