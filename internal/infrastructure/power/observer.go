// Package power reads the host's energy state and turns it into the
// constraint answers and transition signals used by the reminder scheduler.
package power

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alem-hub/study-planner/internal/domain/power"
)

// Observer answers "is background work power-constrained right now?".
// It never caches: every call goes to the probe unless a test override is set.
type Observer struct {
	probe  power.Probe
	logger *slog.Logger

	mu       sync.RWMutex
	override *bool
}

// NewObserver creates an Observer backed by probe.
func NewObserver(probe power.Probe, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		probe:  probe,
		logger: logger.With("component", "power_observer"),
	}
}

// IsPowerConstrained reports whether power-save mode or device idle is active.
// Probe errors are returned to the caller.
func (o *Observer) IsPowerConstrained(ctx context.Context) (bool, error) {
	if v, ok := o.overridden(); ok {
		return v, nil
	}

	state, err := o.probe.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read power state: %w", err)
	}

	constrained := state.Constrained()
	o.logger.Debug("power state queried",
		"power_save", state.PowerSaveMode,
		"device_idle", state.DeviceIdle,
		"constrained", constrained,
	)
	return constrained, nil
}

// BatteryNotLow implements the work manager's battery constraint. While a
// test override is set the host is not queried and the constraint holds.
func (o *Observer) BatteryNotLow(ctx context.Context) (bool, error) {
	if _, ok := o.overridden(); ok {
		return true, nil
	}

	state, err := o.probe.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read power state: %w", err)
	}
	return !state.BatteryLow, nil
}

// State returns the full probe snapshot for diagnostics.
func (o *Observer) State(ctx context.Context) (power.State, error) {
	return o.probe.Read(ctx)
}

// OverrideForTests forces IsPowerConstrained to return *v. Passing nil
// restores real queries. Outside tests only the POWER_OVERRIDE hook of
// a non-production build calls this.
func (o *Observer) OverrideForTests(v *bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if v == nil {
		o.override = nil
		return
	}
	val := *v
	o.override = &val
}

func (o *Observer) overridden() (bool, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.override == nil {
		return false, false
	}
	return *o.override, true
}
