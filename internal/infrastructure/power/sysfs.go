package power

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/internal/domain/shared"
)

// SysfsConfig configures the Linux sysfs probe.
type SysfsConfig struct {
	// Root is the sysfs mount point.
	Root string

	// LowBatteryPercent is the capacity at or below which a discharging
	// battery counts as low.
	LowBatteryPercent int

	// IdleHintFile is an optional file written by a device agent; "1",
	// "true" or "idle" means the device is idle.
	IdleHintFile string

	// PowerSaveHintFile is an optional file that overrides platform_profile;
	// "1", "true" or "on" means power-save is active.
	PowerSaveHintFile string
}

// DefaultSysfsConfig returns defaults for a standard Linux host.
func DefaultSysfsConfig() SysfsConfig {
	return SysfsConfig{
		Root:              "/sys",
		LowBatteryPercent: 15,
	}
}

// SysfsProbe reads power state from /sys/class/power_supply and the ACPI
// platform profile.
type SysfsProbe struct {
	config SysfsConfig
}

// NewSysfsProbe creates a probe with the given configuration.
func NewSysfsProbe(config SysfsConfig) *SysfsProbe {
	if config.Root == "" {
		config.Root = "/sys"
	}
	if config.LowBatteryPercent <= 0 {
		config.LowBatteryPercent = 15
	}
	return &SysfsProbe{config: config}
}

// Read implements power.Probe.
func (p *SysfsProbe) Read(ctx context.Context) (power.State, error) {
	if err := ctx.Err(); err != nil {
		return power.State{}, err
	}

	state := power.State{CapacityPercent: -1}

	supplies, err := p.readSupplies()
	if err != nil {
		return power.State{}, err
	}

	batteryFound, mainsFound := false, false
	for _, s := range supplies {
		switch s.kind {
		case "Battery":
			batteryFound = true
			if s.capacity >= 0 && (state.CapacityPercent < 0 || s.capacity < state.CapacityPercent) {
				state.CapacityPercent = s.capacity
			}
			if s.status == "Charging" || s.status == "Full" {
				state.Charging = true
			}
		case "Mains", "USB", "USB_C", "USB_PD":
			mainsFound = true
			if s.online {
				state.Charging = true
			}
		}
	}

	// A host without any supply entries is a mains-powered machine.
	if !batteryFound && !mainsFound {
		state.Charging = true
	}

	if batteryFound && !state.Charging && state.CapacityPercent >= 0 {
		state.BatteryLow = state.CapacityPercent <= p.config.LowBatteryPercent
	}

	state.PowerSaveMode, err = p.powerSave()
	if err != nil {
		return power.State{}, err
	}

	if p.config.IdleHintFile != "" {
		hint, err := readTrimmed(p.config.IdleHintFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return power.State{}, p.unavailable(err)
		}
		state.DeviceIdle = truthy(hint, "idle")
	}

	return state, nil
}

type supply struct {
	kind     string
	status   string
	capacity int
	online   bool
}

func (p *SysfsProbe) readSupplies() ([]supply, error) {
	dir := filepath.Join(p.config.Root, "class", "power_supply")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, p.unavailable(err)
	}

	supplies := make([]supply, 0, len(entries))
	for _, e := range entries {
		base := filepath.Join(dir, e.Name())

		kind, err := readTrimmed(filepath.Join(base, "type"))
		if err != nil {
			// Entries without a type file are not power supplies we understand.
			continue
		}

		s := supply{kind: kind, capacity: -1}
		s.status, _ = readTrimmed(filepath.Join(base, "status"))
		if c, err := readTrimmed(filepath.Join(base, "capacity")); err == nil {
			if v, err := strconv.Atoi(c); err == nil {
				s.capacity = v
			}
		}
		if o, err := readTrimmed(filepath.Join(base, "online")); err == nil {
			s.online = o == "1"
		}
		supplies = append(supplies, s)
	}

	return supplies, nil
}

func (p *SysfsProbe) powerSave() (bool, error) {
	if p.config.PowerSaveHintFile != "" {
		hint, err := readTrimmed(p.config.PowerSaveHintFile)
		if err == nil {
			return truthy(hint, "on"), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, p.unavailable(err)
		}
	}

	profile, err := readTrimmed(filepath.Join(p.config.Root, "firmware", "acpi", "platform_profile"))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, p.unavailable(err)
	}
	return profile == "low-power" || profile == "quiet", nil
}

func (p *SysfsProbe) unavailable(err error) error {
	return fmt.Errorf("%w: %v", shared.ErrPowerProbeUnavailable, err)
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func truthy(v, word string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == word
}
