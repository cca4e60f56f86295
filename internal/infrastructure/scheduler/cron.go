package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression represents a parsed cron expression.
// Supports standard 5-field format: minute hour day-of-month month day-of-week
// Examples:
//   - "0 20 * * *"   - every day at 20:00
//   - "30 19 * * 1-5" - weekdays at 19:30
//   - "0 */6 * * *"  - every six hours
//
// Each field is kept as a bitmask of allowed values.
type CronExpression struct {
	raw      string
	minutes  uint64 // 0-59
	hours    uint64 // 0-23
	days     uint64 // 1-31
	months   uint64 // 1-12
	weekdays uint64 // 0-6 (0 = Sunday)
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronExpression parses a cron expression string.
// Supports: *, */n, n, n-m, n-m/s and comma-separated lists of those.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidSchedule, len(fields))
	}

	var masks [5]uint64
	for i, f := range cronFields {
		mask, err := parseCronField(fields[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s field: %v", ErrInvalidSchedule, f.name, err)
		}
		masks[i] = mask
	}

	return &CronExpression{
		raw:      expr,
		minutes:  masks[0],
		hours:    masks[1],
		days:     masks[2],
		months:   masks[3],
		weekdays: masks[4],
	}, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for compile-time constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return ce
}

func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parseCronPart(part, min, max)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

func parseCronPart(part string, min, max int) (uint64, error) {
	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", s)
		}
		step = n
		part = base
	}

	start, end := min, max
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return 0, fmt.Errorf("invalid range start %q", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return 0, fmt.Errorf("invalid range end %q", hi)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", part)
		}
		start = v
		if step == 1 {
			end = v
		}
	}

	if start < min || end > max || start > end {
		return 0, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}

	var mask uint64
	for i := start; i <= end; i += step {
		mask |= 1 << uint(i)
	}
	return mask, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time,
// or the zero time if nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 1)

	for t.Before(limit) {
		if ce.months&(1<<uint(t.Month())) == 0 {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if ce.days&(1<<uint(t.Day())) == 0 || ce.weekdays&(1<<uint(t.Weekday())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if ce.hours&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if ce.minutes&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}
