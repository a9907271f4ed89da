// Package schedule provides cron expression evaluation for recurring
// policy windows. A rule with a cron time and a duration is active from
// the most recent fire up to fire+duration; Prev computes that fire.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cron implements cron-like scheduling.
// Supports: minute hour day-of-month month day-of-week
// Supports: * (any), */n (every n), n-m (range), n,m,o (list)
type Cron struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6 (0=Sunday)
}

// Parse parses a five-field cron expression.
// Examples:
//   - "0 * * * *" - Every hour
//   - "0 22 * * *" - Daily at 10:00 PM
//   - "30 16 * * 1-5" - Weekdays at 4:30 PM
func Parse(expr string) (*Cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(parts))
	}

	minutes, err := parseField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	daysOfMonth, err := parseField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}

	months, err := parseField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	daysOfWeek, err := parseField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	return &Cron{
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  daysOfWeek,
	}, nil
}

// MustParse parses a cron expression and panics on error.
func MustParse(expr string) *Cron {
	c, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// dayMatches applies cron's day semantics: if both day-of-month and
// day-of-week are restricted, either can match; if only one is
// restricted, that one must match.
func (c *Cron) dayMatches(t time.Time) bool {
	domMatch := contains(c.DaysOfMonth, t.Day())
	dowMatch := contains(c.DaysOfWeek, int(t.Weekday()))

	domAny := len(c.DaysOfMonth) == 31
	dowAny := len(c.DaysOfWeek) == 7

	switch {
	case domAny && dowAny:
		return true
	case domAny:
		return dowMatch
	case dowAny:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

// Next returns the first fire strictly after the given time,
// or the zero time if none exists within four years.
func (c *Cron) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !contains(c.Months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !contains(c.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !contains(c.Minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// Prev returns the most recent fire at or before the given time,
// or the zero time if none exists within the preceding four years.
// Policy schedule windows are gated on this: an event at time T is in
// the window iff Prev(T) <= T < Prev(T)+duration.
func (c *Cron) Prev(at time.Time) time.Time {
	t := at.Truncate(time.Minute)
	limit := at.AddDate(-4, 0, 0)

	for t.After(limit) {
		if !contains(c.Months, int(t.Month())) {
			// Last minute of the previous month
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).Add(-time.Minute)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).Add(-time.Minute)
			continue
		}
		if !contains(c.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(-time.Minute)
			continue
		}
		if !contains(c.Minutes, t.Minute()) {
			t = t.Add(-time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// parseField parses a single cron field.
func parseField(field string, min, max int) ([]int, error) {
	var values []int

	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		// Step values (*/n or n-m/s)
		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			var err error
			step, err = strconv.Atoi(part[idx+1:])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("invalid step: %s", part)
			}
			part = part[:idx]
		}

		if part == "*" {
			for i := min; i <= max; i += step {
				values = append(values, i)
			}
			continue
		}

		// Range (n-m)
		if idx := strings.Index(part, "-"); idx != -1 {
			start, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, fmt.Errorf("invalid range start: %s", part)
			}
			end, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid range end: %s", part)
			}
			if start < min || end > max || start > end {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			for i := start; i <= end; i += step {
				values = append(values, i)
			}
			continue
		}

		val, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		if val < min || val > max {
			return nil, fmt.Errorf("value out of range: %d", val)
		}
		values = append(values, val)
	}

	return values, nil
}

func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
