package power

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/study-planner/internal/domain/shared"
)

func TestState_Constrained(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"unconstrained", State{}, false},
		{"power save", State{PowerSaveMode: true}, true},
		{"idle", State{DeviceIdle: true}, true},
		{"battery low only", State{BatteryLow: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Constrained())
		})
	}
}

func TestSignal_IsValid(t *testing.T) {
	assert.True(t, SignalBatteryOkay.IsValid())
	assert.True(t, Signal("power_save_mode_changed").IsValid())
	assert.False(t, Signal("screen_on").IsValid())
}

func TestParseSignal(t *testing.T) {
	s, err := ParseSignal(" Battery_Okay ")
	assert.NoError(t, err)
	assert.Equal(t, SignalBatteryOkay, s)

	_, err = ParseSignal("screen_on")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestDiff(t *testing.T) {
	prev := State{BatteryLow: true, PowerSaveMode: true}
	next := State{Charging: true}

	got := Diff(prev, next, "test")

	if assert.Len(t, got, 3) {
		assert.Equal(t, SignalPowerConnected, got[0].Signal)
		assert.Equal(t, SignalBatteryOkay, got[1].Signal)
		assert.Equal(t, SignalPowerSaveModeChanged, got[2].Signal)
		assert.False(t, got[2].PowerSaveOn)
		assert.Equal(t, "test", got[0].Source)
	}

	assert.Empty(t, Diff(next, next, "test"))
}
