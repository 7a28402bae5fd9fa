package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule fires on the minutes matched by a five-field expression:
// minute hour day-of-month month day-of-week. Each field accepts *, n,
// n-m, a/s with a being * or a range, and comma separated lists of those.
type CronSchedule struct {
	raw      string
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
}

// Cron presets used by the roster cache refresh.
const (
	Every5Minutes  = "*/5 * * * *"
	Every10Minutes = "*/10 * * * *"
	EveryHour      = "0 * * * *"
	Weekdays7AM    = "0 7 * * 1-5"
)

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

// ParseCron parses a cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseCronField(f, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, cronFields[i].name, err)
		}
		sets[i] = set
	}
	return &CronSchedule{
		raw:      expr,
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

// MustParseCron is ParseCron for constant expressions.
func MustParseCron(expr string) *CronSchedule {
	cs, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return cs
}

func parseCronField(field string, spec cronField) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := spec.min, spec.max, 1

		rangePart := part
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", s)
			}
			step = n
			rangePart = base
		}

		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rangePart)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < spec.min || hi > spec.max || lo > hi {
			return 0, fmt.Errorf("%q out of range [%d-%d]", part, spec.min, spec.max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func (cs *CronSchedule) matches(t time.Time) bool {
	return cs.minutes&(1<<uint(t.Minute())) != 0 &&
		cs.hours&(1<<uint(t.Hour())) != 0 &&
		cs.days&(1<<uint(t.Day())) != 0 &&
		cs.months&(1<<uint(t.Month())) != 0 &&
		cs.weekdays&(1<<uint(t.Weekday())) != 0
}

// Next returns the first matching minute strictly after t, or the zero
// time when nothing matches within a year.
func (cs *CronSchedule) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 366*24*60; i++ {
		if cs.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

// String returns the expression.
func (cs *CronSchedule) String() string {
	return cs.raw
}
