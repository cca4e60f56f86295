package power

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/pkg/logger"
)

func boolPtr(b bool) *bool { return &b }

type countingProbe struct {
	mu    sync.Mutex
	state power.State
	err   error
	reads int
}

func (p *countingProbe) Read(context.Context) (power.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.state, p.err
}

func (p *countingProbe) set(s power.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func TestObserver_QueriesProbeEveryTime(t *testing.T) {
	probe := &countingProbe{state: power.State{PowerSaveMode: true}}
	obs := NewObserver(probe, logger.Discard())

	constrained, err := obs.IsPowerConstrained(context.Background())
	require.NoError(t, err)
	assert.True(t, constrained)

	probe.set(power.State{})
	constrained, err = obs.IsPowerConstrained(context.Background())
	require.NoError(t, err)
	assert.False(t, constrained)
	assert.Equal(t, 2, probe.reads)
}

func TestObserver_Override(t *testing.T) {
	probe := &countingProbe{state: power.State{DeviceIdle: true}}
	obs := NewObserver(probe, logger.Discard())
	t.Cleanup(func() { obs.OverrideForTests(nil) })

	obs.OverrideForTests(boolPtr(false))
	constrained, err := obs.IsPowerConstrained(context.Background())
	require.NoError(t, err)
	assert.False(t, constrained)
	assert.Equal(t, 0, probe.reads)

	ok, err := obs.BatteryNotLow(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, probe.reads)

	obs.OverrideForTests(nil)
	constrained, err = obs.IsPowerConstrained(context.Background())
	require.NoError(t, err)
	assert.True(t, constrained)
	assert.Equal(t, 1, probe.reads)
}

func TestObserver_ProbeErrorPropagates(t *testing.T) {
	probe := &countingProbe{err: errors.New("sysfs gone")}
	obs := NewObserver(probe, logger.Discard())

	_, err := obs.IsPowerConstrained(context.Background())
	assert.Error(t, err)

	_, err = obs.BatteryNotLow(context.Background())
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
}

func TestSysfsProbe_Read(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "class/power_supply/BAT0/type"), "Battery")
	writeFile(t, filepath.Join(root, "class/power_supply/BAT0/capacity"), "12")
	writeFile(t, filepath.Join(root, "class/power_supply/BAT0/status"), "Discharging")
	writeFile(t, filepath.Join(root, "class/power_supply/AC/type"), "Mains")
	writeFile(t, filepath.Join(root, "class/power_supply/AC/online"), "0")
	writeFile(t, filepath.Join(root, "firmware/acpi/platform_profile"), "low-power")
	idle := filepath.Join(root, "idle_hint")
	writeFile(t, idle, "idle")

	probe := NewSysfsProbe(SysfsConfig{Root: root, LowBatteryPercent: 15, IdleHintFile: idle})
	state, err := probe.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, power.State{
		PowerSaveMode:   true,
		DeviceIdle:      true,
		BatteryLow:      true,
		Charging:        false,
		CapacityPercent: 12,
	}, state)

	writeFile(t, filepath.Join(root, "class/power_supply/AC/online"), "1")
	writeFile(t, filepath.Join(root, "firmware/acpi/platform_profile"), "balanced")
	writeFile(t, idle, "0")

	state, err = probe.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Charging)
	assert.False(t, state.BatteryLow)
	assert.False(t, state.Constrained())
}

func TestSysfsProbe_NoSuppliesMeansMains(t *testing.T) {
	config := DefaultSysfsConfig()
	config.Root = t.TempDir()
	probe := NewSysfsProbe(config)

	state, err := probe.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Charging)
	assert.Equal(t, -1, state.CapacityPercent)
	assert.False(t, state.BatteryLow)
}

func TestSysfsProbe_UnreadableSupplyDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "class/power_supply"), "not a directory")

	_, err := NewSysfsProbe(SysfsConfig{Root: root}).Read(context.Background())
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

type recordingSink struct {
	mu  sync.Mutex
	got []power.Transition
}

func (s *recordingSink) Publish(_ context.Context, t power.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, t)
	return nil
}

func (s *recordingSink) signals() []power.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]power.Signal, 0, len(s.got))
	for _, t := range s.got {
		out = append(out, t.Signal)
	}
	return out
}

func TestMonitor_PublishesTransitions(t *testing.T) {
	probe := &countingProbe{state: power.State{BatteryLow: true}}
	sink := &recordingSink{}
	m := NewMonitor(probe, sink, MonitorConfig{PollInterval: 5 * time.Millisecond, Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		probe.mu.Lock()
		defer probe.mu.Unlock()
		return probe.reads >= 2
	}, time.Second, time.Millisecond)
	assert.Empty(t, sink.signals())

	probe.set(power.State{Charging: true})
	require.Eventually(t, func() bool { return len(sink.signals()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []power.Signal{power.SignalPowerConnected, power.SignalBatteryOkay}, sink.signals())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
