package localtime

import (
	"time"

	"github.com/sundialhq/sundial/internal/planner"
)

// Window is a half-open [Start, End) interval of minutes-of-day. End may
// exceed 24h*60, in which case the window wraps past midnight: a local
// time matches either the late-evening or early-morning span.
type Window struct {
	Start int // minutes from local midnight, inclusive
	End   int // minutes from local midnight, exclusive
}

const minutesPerDay = 24 * 60

// MidnightWindow returns the rollover trigger window. Normal days use
// the 1-minute [00:00, 00:01) window; transition days widen to
// [23:00, 01:30) spanning midnight so a boundary the local clock jumps
// over (or repeats) is still caught exactly once.
func MidnightWindow(kind TransitionKind) Window {
	if kind == TransitionNone {
		return Window{Start: 0, End: 1}
	}
	return Window{Start: 23 * 60, End: minutesPerDay + 90}
}

// DigestWindow returns the digest trigger window for the configured local
// hour: [hour:00, hour:10) normally, widened to [hour-1:00, hour+2:30)
// on transition days.
func DigestWindow(hour int, kind TransitionKind) Window {
	if kind == TransitionNone {
		return Window{Start: hour * 60, End: hour*60 + 10}
	}
	start := (hour - 1) * 60
	if start < 0 {
		start = 0
	}
	return Window{Start: start, End: hour*60 + 150}
}

// Contains reports whether the local wall-clock time falls inside the
// window.
func (w Window) Contains(local time.Time) bool {
	m := local.Hour()*60 + local.Minute()

	if w.End <= minutesPerDay {
		return m >= w.Start && m < w.End
	}

	// Wrapping window: late-evening span or early-morning remainder
	return m >= w.Start || m < w.End-minutesPerDay
}

// BoundaryDate resolves which calendar date a window hit belongs to. For
// a wrapping window, a late-evening hit (23:xx on the eve of the shift)
// targets the next day's boundary; an early-morning hit targets the
// current day's.
func BoundaryDate(local time.Time, w Window) time.Time {
	m := local.Hour()*60 + local.Minute()
	d := planner.Date(local)

	if w.End > minutesPerDay && m >= w.Start {
		return d.AddDate(0, 0, 1)
	}
	return d
}
