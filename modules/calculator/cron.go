package calculator

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/robfig/cron/v3"
)

const (
	minYear = 1970
	maxYear = 2099
)

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed cron expression: six fields starting with seconds, an
// optional seventh year field, or a descriptor such as @hourly.
type Schedule struct {
	expr  string
	cron  cron.Schedule
	years []int
}

// Parse parses expr. Errors match errors.ErrParseSchedule.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.ParseSchedule(expr, errors.New("empty schedule"))
	}

	cronPart := expr
	var years []int
	if !strings.HasPrefix(expr, "@") {
		fields := strings.Fields(expr)
		switch len(fields) {
		case 6:
		case 7:
			parsed, err := parseYears(fields[6])
			if err != nil {
				return nil, errors.ParseSchedule(expr, err)
			}
			years = parsed
			cronPart = strings.Join(fields[:6], " ")
		default:
			return nil, errors.ParseSchedule(expr, errors.Newf("expected 6 or 7 fields, got %d", len(fields)))
		}
	}

	sched, err := parser.Parse(cronPart)
	if err != nil {
		return nil, errors.ParseSchedule(expr, err)
	}
	return &Schedule{expr: expr, cron: sched, years: years}, nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

func (s *Schedule) String() string {
	return s.expr
}

// After returns the first instant strictly after t matching the schedule,
// with fields evaluated at the fixed UTC offset. The result is in UTC. False
// means the schedule has no further occurrence.
func (s *Schedule) After(t time.Time, offsetSeconds int32) (time.Time, bool) {
	zone := FixedZone(offsetSeconds)
	next := t.In(zone)
	for range maxYear - minYear + 1 {
		next = s.cron.Next(next)
		if next.IsZero() {
			return time.Time{}, false
		}
		if s.years == nil || slices.Contains(s.years, next.Year()) {
			return next.UTC(), true
		}
		year, ok := s.nextYear(next.Year())
		if !ok {
			return time.Time{}, false
		}
		next = time.Date(year, time.January, 1, 0, 0, 0, 0, zone).Add(-time.Second)
	}
	return time.Time{}, false
}

// Upcoming returns up to n instants after t.
func (s *Schedule) Upcoming(t time.Time, offsetSeconds int32, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		next, ok := s.After(t, offsetSeconds)
		if !ok {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

func (s *Schedule) nextYear(after int) (int, bool) {
	for _, y := range s.years {
		if y > after {
			return y, true
		}
	}
	return 0, false
}

// FixedZone returns a location for a UTC offset in seconds.
func FixedZone(offsetSeconds int32) *time.Location {
	if offsetSeconds == 0 {
		return time.UTC
	}
	sign := '+'
	off := offsetSeconds
	if off < 0 {
		sign = '-'
		off = -off
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, off/3600, (off%3600)/60)
	return time.FixedZone(name, int(offsetSeconds))
}

// OffsetOf returns the UTC offset of loc at now.
func OffsetOf(loc *time.Location, now time.Time) int32 {
	if loc == nil {
		return 0
	}
	_, off := now.In(loc).Zone()
	return int32(off)
}

// parseYears expands a year field into a sorted list of years.
func parseYears(field string) ([]int, error) {
	set := make(map[int]struct{})
	for part := range strings.SplitSeq(field, ",") {
		lo, hi, step, err := parseYearRange(part)
		if err != nil {
			return nil, err
		}
		for y := lo; y <= hi; y += step {
			set[y] = struct{}{}
		}
	}
	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	slices.Sort(years)
	return years, nil
}

func parseYearRange(part string) (lo, hi, step int, err error) {
	step = 1
	rangePart := part
	if before, after, found := strings.Cut(part, "/"); found {
		rangePart = before
		step, err = strconv.Atoi(after)
		if err != nil || step <= 0 {
			return 0, 0, 0, errors.Newf("invalid year step %q", after)
		}
	}

	switch {
	case rangePart == "*" || rangePart == "?":
		lo, hi = minYear, maxYear
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		if lo, err = parseYear(a); err != nil {
			return 0, 0, 0, err
		}
		if hi, err = parseYear(b); err != nil {
			return 0, 0, 0, err
		}
		if lo > hi {
			return 0, 0, 0, errors.Newf("invalid year range %q", rangePart)
		}
	default:
		if lo, err = parseYear(rangePart); err != nil {
			return 0, 0, 0, err
		}
		hi = lo
		if step > 1 {
			hi = maxYear
		}
	}
	return lo, hi, step, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Newf("invalid year %q", s)
	}
	if y < minYear || y > maxYear {
		return 0, errors.Newf("year %d out of range [%d, %d]", y, minYear, maxYear)
	}
	return y, nil
}
