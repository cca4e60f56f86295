package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// IntervalSchedule fires every Interval after the previous fire time.
type IntervalSchedule struct {
	Interval time.Duration
}

func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) Next(after time.Time) time.Time { return after.Add(s.Interval) }

func (s *IntervalSchedule) String() string { return "@every " + s.Interval.String() }

var cronShorthands = map[string]string{
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// ParseSchedule accepts "@every <duration>", @daily, @midnight, @hourly or a
// five-field cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty schedule", ErrInvalidSchedule)
	}
	if expr, ok := cronShorthands[spec]; ok {
		return ParseCronExpression(expr)
	}

	every, ok := strings.CutPrefix(spec, "@every ")
	if !ok {
		return ParseCronExpression(spec)
	}
	d, err := time.ParseDuration(strings.TrimSpace(every))
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	case d <= 0:
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	}
	return NewIntervalSchedule(d), nil
}
