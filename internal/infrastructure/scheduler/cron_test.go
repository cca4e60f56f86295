package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2026, 10, 16, 19, 30, 0, 0, time.UTC) // Friday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 20 * * *", time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)},
		{"0 8 * * *", time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 10, 16, 19, 45, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"0,45 19 * * *", time.Date(2026, 10, 16, 19, 45, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(base))
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestCronExpression_NextHonoursLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	ce := MustParseCronExpression("0 20 * * *")

	got := ce.Next(time.Date(2026, 10, 16, 18, 10, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 10, 16, 20, 0, 0, 0, loc), got)
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCronExpression(expr)
		assert.ErrorIs(t, err, ErrInvalidSchedule, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 24h")
	require.NoError(t, err)
	assert.Equal(t, "@every 24h0m0s", s.String())

	s, err = ParseSchedule("0 20 * * *")
	require.NoError(t, err)
	assert.IsType(t, &CronExpression{}, s)

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", s.String())

	for _, bad := range []string{"", "@every soon", "@every -1h", "nonsense"} {
		_, err := ParseSchedule(bad)
		assert.ErrorIs(t, err, ErrInvalidSchedule, bad)
	}
}
