package power

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/power"
)

// Publisher accepts transition signals.
type Publisher interface {
	Publish(ctx context.Context, t power.Transition) error
}

// MonitorConfig configures the polling monitor.
type MonitorConfig struct {
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Monitor polls a probe and publishes a signal for every state change,
// standing in for OS power broadcasts on hosts that have none.
type Monitor struct {
	probe    power.Probe
	sink     Publisher
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(probe power.Probe, sink Publisher, config MonitorConfig) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Monitor{
		probe:    probe,
		sink:     sink,
		interval: config.PollInterval,
		logger:   config.Logger.With("component", "power_monitor"),
	}
}

// Run polls until ctx is cancelled. The first successful read sets the
// baseline and publishes nothing.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var prev *power.State
	poll := func() {
		state, err := m.probe.Read(ctx)
		if err != nil {
			m.logger.Warn("power probe failed", "error", err)
			return
		}
		if prev != nil {
			for _, t := range power.Diff(*prev, state, "sysfs") {
				if err := m.sink.Publish(ctx, t); err != nil {
					m.logger.Warn("failed to publish power signal", "signal", t.Signal, "error", err)
					continue
				}
				m.logger.Info("power transition detected", "signal", t.Signal, "power_save_on", t.PowerSaveOn)
			}
		}
		prev = &state
	}

	m.logger.Info("power monitor started", "interval", m.interval.String())
	poll()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("power monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
}
