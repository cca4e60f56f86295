// Package power содержит доменную модель энергетического состояния устройства:
// снимок состояния питания и сигналы переходов, на которые реагирует
// планировщик напоминаний.
package power

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - снимок энергетического состояния устройства в момент запроса.
// Никогда не сохраняется, вычисляется заново при каждом решении.
type State struct {
	// PowerSaveMode - включён режим энергосбережения.
	PowerSaveMode bool `json:"power_save_mode"`

	// DeviceIdle - устройство в режиме простоя (Doze).
	DeviceIdle bool `json:"device_idle"`

	// BatteryLow - заряд батареи ниже порога и устройство не заряжается.
	BatteryLow bool `json:"battery_low"`

	// Charging - устройство подключено к питанию.
	Charging bool `json:"charging"`

	// CapacityPercent - уровень заряда, -1 если батареи нет.
	CapacityPercent int `json:"capacity_percent"`
}

// Constrained возвращает true, если фоновая работа должна быть отложена.
// Низкий заряд сюда не входит: это ограничение проверяет сам менеджер задач.
func (s State) Constrained() bool {
	return s.PowerSaveMode || s.DeviceIdle
}

// Probe - источник реального состояния питания.
type Probe interface {
	Read(ctx context.Context) (State, error)
}

// ProbeFunc позволяет использовать обычную функцию как Probe.
type ProbeFunc func(ctx context.Context) (State, error)

// Read реализует Probe.
func (f ProbeFunc) Read(ctx context.Context) (State, error) { return f(ctx) }

// ══════════════════════════════════════════════════════════════════════════════
// SIGNALS
// ══════════════════════════════════════════════════════════════════════════════

// Signal - сигнал о переходе энергетического состояния.
type Signal string

const (
	SignalBatteryLow           Signal = "battery_low"
	SignalBatteryOkay          Signal = "battery_okay"
	SignalPowerConnected       Signal = "power_connected"
	SignalPowerDisconnected    Signal = "power_disconnected"
	SignalPowerSaveModeChanged Signal = "power_save_mode_changed"
)

// IsValid проверяет, что сигнал входит в словарь.
func (s Signal) IsValid() bool {
	switch s {
	case SignalBatteryLow, SignalBatteryOkay, SignalPowerConnected,
		SignalPowerDisconnected, SignalPowerSaveModeChanged:
		return true
	default:
		return false
	}
}

// String реализует fmt.Stringer.
func (s Signal) String() string { return string(s) }

// ParseSignal разбирает имя сигнала в формате передачи.
func ParseSignal(name string) (Signal, error) {
	s := Signal(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownSignal, name)
	}
	return s, nil
}

// Transition - входящее событие перехода.
// PowerSaveOn имеет смысл только для SignalPowerSaveModeChanged и
// отражает состояние режима после перехода.
type Transition struct {
	Signal      Signal    `json:"signal"`
	PowerSaveOn bool      `json:"power_save_on,omitempty"`
	Source      string    `json:"source,omitempty"`
	At          time.Time `json:"at"`
}

// NewTransition создаёт событие перехода с текущим временем.
func NewTransition(signal Signal, source string) Transition {
	return Transition{Signal: signal, Source: source, At: time.Now().UTC()}
}

// NewPowerSaveTransition создаёт событие изменения режима энергосбережения.
func NewPowerSaveTransition(on bool, source string) Transition {
	t := NewTransition(SignalPowerSaveModeChanged, source)
	t.PowerSaveOn = on
	return t
}

// Diff вычисляет сигналы, которые соответствуют переходу prev -> next.
// Порядок сигналов стабилен: питание, батарея, энергосбережение.
func Diff(prev, next State, source string) []Transition {
	var out []Transition

	if prev.Charging != next.Charging {
		if next.Charging {
			out = append(out, NewTransition(SignalPowerConnected, source))
		} else {
			out = append(out, NewTransition(SignalPowerDisconnected, source))
		}
	}

	if prev.BatteryLow != next.BatteryLow {
		if next.BatteryLow {
			out = append(out, NewTransition(SignalBatteryLow, source))
		} else {
			out = append(out, NewTransition(SignalBatteryOkay, source))
		}
	}

	if prev.PowerSaveMode != next.PowerSaveMode {
		out = append(out, NewPowerSaveTransition(next.PowerSaveMode, source))
	}

	return out
}
