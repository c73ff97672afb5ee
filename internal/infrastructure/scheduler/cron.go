package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
//	"*/5 * * * *"   every 5 minutes
//	"30 3 * * *"    every day at 03:30
//	"0 0 * * 1-5"   weekdays at midnight
type CronSchedule struct {
	raw      string
	location *time.Location
	fields   [5]fieldSet
}

// fieldSet is a bitmask of allowed values for one field.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCron parses expr and evaluates it in loc (UTC when nil).
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}
	if loc == nil {
		loc = time.UTC
	}

	cs := &CronSchedule{raw: expr, location: loc}
	for i, part := range parts {
		b := cronBounds[i]
		set, err := parseCronField(part, b.min, b.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", b.name, part, err)
		}
		cs.fields[i] = set
	}
	return cs, nil
}

// parseCronField accepts *, n, n-m, */s, n-m/s and comma lists of those.
func parseCronField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, item := range strings.Split(field, ",") {
		rangePart, step := item, 1
		if i := strings.IndexByte(item, '/'); i >= 0 {
			s, err := strconv.Atoi(item[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("bad step %q", item[i+1:])
			}
			rangePart, step = item[:i], s
		}

		lo, hi := min, max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			var err error
			if lo, err = strconv.Atoi(bounds[0]); err != nil {
				return 0, fmt.Errorf("bad range start %q", bounds[0])
			}
			if hi, err = strconv.Atoi(bounds[1]); err != nil {
				return 0, fmt.Errorf("bad range end %q", bounds[1])
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", rangePart)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}
		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("out of range [%d-%d]", min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// MustParseCron is ParseCron for expressions known at compile time.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	cs, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return cs
}

// String returns the original expression.
func (cs *CronSchedule) String() string {
	return cs.raw
}

// Next returns the first matching minute strictly after t. A zero time
// means nothing matches within a year (e.g. "0 0 31 2 *").
func (cs *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(cs.location).Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		if cs.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (cs *CronSchedule) matches(t time.Time) bool {
	return cs.fields[0].has(t.Minute()) &&
		cs.fields[1].has(t.Hour()) &&
		cs.fields[2].has(t.Day()) &&
		cs.fields[3].has(int(t.Month())) &&
		cs.fields[4].has(int(t.Weekday()))
}
