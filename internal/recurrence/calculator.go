// Package recurrence computes the next occurrence date for a recurring
// series. Pure date arithmetic: no I/O, no clock reads, fully
// deterministic.
package recurrence

import (
	"sort"
	"time"

	"github.com/sundialhq/sundial/internal/planner"
)

// NextOccurrence maps (last occurrence, rule) to the next occurrence
// date. Inputs and outputs are normalized calendar dates (midnight UTC).
//
// An unrecognized rule kind falls back to +1 day so a single corrupt
// rule cannot wedge the scan loop.
func NextOccurrence(last time.Time, rule planner.RecurrenceRule) time.Time {
	last = planner.Date(last)
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	switch rule.Kind {
	case planner.RuleDaily:
		return last.AddDate(0, 0, interval)
	case planner.RuleWeekdays:
		return nextWeekday(last)
	case planner.RuleWeekly:
		return nextWeekly(last, rule.DaysOfWeek, interval)
	case planner.RuleMonthlyDate:
		return nextMonthlyDate(last, rule.DayOfMonth, interval)
	case planner.RuleMonthlyWeekday:
		return nextMonthlyWeekday(last, rule.Weekday, rule.WeekOfMonth, interval)
	case planner.RuleYearly:
		return last.AddDate(interval, 0, 0)
	default:
		return last.AddDate(0, 0, 1)
	}
}

// nextWeekday steps one day at a time until a Mon-Fri date is found.
// The interval multiplier does not apply to this family.
func nextWeekday(last time.Time) time.Time {
	d := last.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// nextWeekly finds the next listed weekday strictly after last's weekday
// within the same Sunday-started week; when none remains, it jumps to the
// first listed weekday of the week interval weeks later.
func nextWeekly(last time.Time, days []time.Weekday, interval int) time.Time {
	if len(days) == 0 {
		return last.AddDate(0, 0, 7*interval)
	}

	sorted := make([]time.Weekday, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	lw := last.Weekday()
	for _, d := range sorted {
		if d > lw {
			return last.AddDate(0, 0, int(d-lw))
		}
	}

	weekStart := last.AddDate(0, 0, -int(lw))
	return weekStart.AddDate(0, 0, interval*7+int(sorted[0]))
}

// nextMonthlyDate advances interval months and clamps the requested day
// to the last valid day of the target month (the 31st in a 30-day month
// yields the 30th).
func nextMonthlyDate(last time.Time, dayOfMonth, interval int) time.Time {
	anchor := time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, interval, 0)

	day := dayOfMonth
	if day < 1 {
		day = 1
	}
	if dim := daysInMonth(anchor); day > dim {
		day = dim
	}

	return anchor.AddDate(0, 0, day-1)
}

// nextMonthlyWeekday advances interval months and locates the
// weekOfMonth-th occurrence of weekday there. weekOfMonth 5 means "last",
// found by scanning backward from month end.
func nextMonthlyWeekday(last time.Time, weekday time.Weekday, weekOfMonth, interval int) time.Time {
	anchor := time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, interval, 0)
	dim := daysInMonth(anchor)

	if weekOfMonth >= planner.LastWeekOfMonth {
		d := anchor.AddDate(0, 0, dim-1)
		for d.Weekday() != weekday {
			d = d.AddDate(0, 0, -1)
		}
		return d
	}

	if weekOfMonth < 1 {
		weekOfMonth = 1
	}

	offset := (int(weekday) - int(anchor.Weekday()) + 7) % 7
	day := 1 + offset + 7*(weekOfMonth-1)
	if day > dim {
		// A 5th occurrence that doesn't exist resolves to the last one
		day -= 7
	}

	return anchor.AddDate(0, 0, day-1)
}

// daysInMonth returns the number of days in t's month
func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
