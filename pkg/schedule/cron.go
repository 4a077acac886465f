package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week. Fields accept "*",
// values, lists, ranges, and "/step" suffixes.
//
// No cron library is vendored; see DESIGN.md for the reasoning.
type cronSchedule struct {
	minute [60]bool
	hour   [24]bool
	dom    [32]bool // 1-31
	month  [13]bool // 1-12
	dow    [7]bool  // 0-6, 0 = Sunday

	// domStar/dowStar record whether the field was "*", because cron
	// ORs dom and dow only when both are restricted.
	domStar bool
	dowStar bool
}

// parseCron parses a cron expression.
func parseCron(expr string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("schedule: cron expression needs 5 fields, got %d in %q", len(fields), expr)
	}

	s := &cronSchedule{}
	specs := []struct {
		field    string
		min, max int
		set      func(int)
		star     *bool
	}{
		{fields[0], 0, 59, func(v int) { s.minute[v] = true }, nil},
		{fields[1], 0, 23, func(v int) { s.hour[v] = true }, nil},
		{fields[2], 1, 31, func(v int) { s.dom[v] = true }, &s.domStar},
		{fields[3], 1, 12, func(v int) { s.month[v] = true }, nil},
		{fields[4], 0, 6, func(v int) { s.dow[v] = true }, &s.dowStar},
	}

	for _, spec := range specs {
		star, err := parseField(spec.field, spec.min, spec.max, spec.set)
		if err != nil {
			return nil, fmt.Errorf("schedule: cron %q: %w", expr, err)
		}
		if spec.star != nil {
			*spec.star = star
		}
	}
	return s, nil
}

// parseField parses one cron field, reporting whether it was a bare
// "*" (no step).
func parseField(field string, min, max int, set func(int)) (star bool, err error) {
	star = field == "*"
	for _, part := range strings.Split(field, ",") {
		rangePart, stepPart, hasStep := strings.Cut(part, "/")

		step := 1
		if hasStep {
			step, err = strconv.Atoi(stepPart)
			if err != nil || step <= 0 {
				return false, fmt.Errorf("bad step %q", stepPart)
			}
		}

		lo, hi := min, max
		if rangePart != "*" {
			loStr, hiStr, isRange := strings.Cut(rangePart, "-")
			lo, err = strconv.Atoi(loStr)
			if err != nil {
				return false, fmt.Errorf("bad value %q", loStr)
			}
			if isRange {
				hi, err = strconv.Atoi(hiStr)
				if err != nil {
					return false, fmt.Errorf("bad value %q", hiStr)
				}
			} else if hasStep {
				// "N/step" means N through max.
				hi = max
			} else {
				hi = lo
			}
		}

		if lo < min || hi > max || lo > hi {
			return false, fmt.Errorf("value out of range in %q", part)
		}
		for v := lo; v <= hi; v += step {
			set(v)
		}
	}
	return star, nil
}

// matches reports whether t satisfies the schedule.
func (s *cronSchedule) matches(t time.Time) bool {
	if !s.minute[t.Minute()] || !s.hour[t.Hour()] || !s.month[int(t.Month())] {
		return false
	}

	domOK := s.dom[t.Day()]
	dowOK := s.dow[int(t.Weekday())]
	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dowOK
	case s.dowStar:
		return domOK
	default:
		// Both restricted: standard cron ORs them.
		return domOK || dowOK
	}
}

// next returns the first time strictly after t that matches. Searches
// minute by minute with a four-year bound against impossible
// schedules.
func (s *cronSchedule) next(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for !t.After(limit) {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}
