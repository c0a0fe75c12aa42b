// Package localtime classifies daylight-saving anomalies and defines the
// scanner's local-time trigger windows.
package localtime

import (
	"time"
)

// TransitionKind classifies a (timezone, date) pair
type TransitionKind int

const (
	// TransitionNone is an ordinary day
	TransitionNone TransitionKind = iota
	// SpringForward is a day around a lost hour (clocks jump ahead)
	SpringForward
	// FallBack is a day around a repeated hour (clocks fall back)
	FallBack
)

func (k TransitionKind) String() string {
	switch k {
	case SpringForward:
		return "spring_forward"
	case FallBack:
		return "fall_back"
	default:
		return "none"
	}
}

// Classify reports whether local is an anomalous day in loc. The zone's
// UTC offset is sampled at noon yesterday, today, and tomorrow; a
// difference against either neighbor marks the date as a transition day.
// That intentionally flags both the day containing the shift and the day
// leading into an overnight shift, since a midnight boundary can sit on
// either side of the transition instant. Double-firing is prevented by
// the scanner's dedup discipline, not here.
//
// A nil location means the zone was unknown: not a transition day
// (fail-open to the simple case).
func Classify(loc *time.Location, local time.Time) TransitionKind {
	if loc == nil {
		return TransitionNone
	}

	today := offsetAtNoon(loc, local)
	yesterday := offsetAtNoon(loc, local.AddDate(0, 0, -1))
	tomorrow := offsetAtNoon(loc, local.AddDate(0, 0, 1))

	switch {
	case today > yesterday || tomorrow > today:
		return SpringForward
	case today < yesterday || tomorrow < today:
		return FallBack
	default:
		return TransitionNone
	}
}

// offsetAtNoon returns the zone offset in seconds at local noon of t's
// date. Noon is the safest probe: no real zone shifts at midday.
func offsetAtNoon(loc *time.Location, t time.Time) int {
	_, offset := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc).Zone()
	return offset
}
