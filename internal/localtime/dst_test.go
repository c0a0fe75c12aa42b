package localtime

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sundialhq/sundial/internal/planner"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("failed to load %s: %v", name, err)
	}
	return loc
}

func TestClassify(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	tests := []struct {
		name  string
		local time.Time
		want  TransitionKind
	}{
		{
			name:  "spring forward day",
			local: time.Date(2024, 3, 10, 6, 0, 0, 0, ny),
			want:  SpringForward,
		},
		{
			name:  "eve of spring forward",
			local: time.Date(2024, 3, 9, 6, 0, 0, 0, ny),
			want:  SpringForward,
		},
		{
			name:  "fall back day",
			local: time.Date(2024, 11, 3, 6, 0, 0, 0, ny),
			want:  FallBack,
		},
		{
			name:  "eve of fall back",
			local: time.Date(2024, 11, 2, 6, 0, 0, 0, ny),
			want:  FallBack,
		},
		{
			name:  "ordinary summer day",
			local: time.Date(2024, 7, 15, 6, 0, 0, 0, ny),
			want:  TransitionNone,
		},
		{
			name:  "ordinary winter day",
			local: time.Date(2024, 1, 15, 6, 0, 0, 0, ny),
			want:  TransitionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(ny, tt.local); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_FixedOffsetZone(t *testing.T) {
	utc := time.UTC
	local := time.Date(2024, 3, 10, 6, 0, 0, 0, utc)
	if got := Classify(utc, local); got != TransitionNone {
		t.Errorf("UTC must never be a transition day, got %v", got)
	}
}

func TestClassify_NilLocation(t *testing.T) {
	// Unknown zones fail open to the simple case
	if got := Classify(nil, time.Now()); got != TransitionNone {
		t.Errorf("nil location must classify as none, got %v", got)
	}
}

func TestMidnightWindow(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	normal := MidnightWindow(TransitionNone)
	if !normal.Contains(time.Date(2024, 1, 15, 0, 0, 30, 0, ny)) {
		t.Error("expected 00:00 to be inside the normal window")
	}
	if normal.Contains(time.Date(2024, 1, 15, 0, 1, 0, 0, ny)) {
		t.Error("expected 00:01 to be outside the half-open window")
	}
	if normal.Contains(time.Date(2024, 1, 15, 23, 30, 0, 0, ny)) {
		t.Error("expected 23:30 to be outside the normal window")
	}

	wide := MidnightWindow(SpringForward)
	for _, hm := range [][2]int{{23, 0}, {23, 59}, {0, 0}, {1, 29}} {
		if !wide.Contains(time.Date(2024, 3, 10, hm[0], hm[1], 0, 0, ny)) {
			t.Errorf("expected %02d:%02d inside the widened window", hm[0], hm[1])
		}
	}
	if wide.Contains(time.Date(2024, 3, 10, 1, 30, 0, 0, ny)) {
		t.Error("expected 01:30 outside the widened window")
	}
	if wide.Contains(time.Date(2024, 3, 10, 12, 0, 0, 0, ny)) {
		t.Error("expected noon outside the widened window")
	}
}

func TestMidnightWindow_SkippedMidnight(t *testing.T) {
	// Santiago's 2024 spring-forward (Sep 8) moves 00:00 to 01:00: local
	// midnight never occurs. The widened window must still catch the
	// boundary via the 23:xx eve hits and the 01:xx morning hits.
	scl := mustZone(t, "America/Santiago")

	eve := time.Date(2024, 9, 7, 23, 30, 0, 0, scl)
	if Classify(scl, eve) != SpringForward {
		t.Fatal("expected Sep 7 eve to classify as spring forward")
	}

	w := MidnightWindow(SpringForward)
	if !w.Contains(eve) {
		t.Error("expected 23:30 on the eve to be inside the window")
	}

	// 2024-09-08 00:30 does not exist in Santiago; constructing it
	// normalizes to 01:30-ish. The first real wall-clock minutes of the
	// day are 01:00 onward.
	morning := time.Date(2024, 9, 8, 1, 10, 0, 0, scl)
	if !w.Contains(morning) {
		t.Error("expected 01:10 after the jump to be inside the window")
	}
}

func TestDigestWindow(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	normal := DigestWindow(6, TransitionNone)
	if !normal.Contains(time.Date(2024, 1, 15, 6, 0, 0, 0, ny)) {
		t.Error("expected 06:00 inside the digest window")
	}
	if !normal.Contains(time.Date(2024, 1, 15, 6, 9, 0, 0, ny)) {
		t.Error("expected 06:09 inside the digest window")
	}
	if normal.Contains(time.Date(2024, 1, 15, 6, 10, 0, 0, ny)) {
		t.Error("expected 06:10 outside the half-open window")
	}

	wide := DigestWindow(6, FallBack)
	if !wide.Contains(time.Date(2024, 11, 3, 5, 0, 0, 0, ny)) {
		t.Error("expected 05:00 inside the widened digest window")
	}
	if !wide.Contains(time.Date(2024, 11, 3, 8, 29, 0, 0, ny)) {
		t.Error("expected 08:29 inside the widened digest window")
	}
	if wide.Contains(time.Date(2024, 11, 3, 8, 30, 0, 0, ny)) {
		t.Error("expected 08:30 outside the widened digest window")
	}
}

func TestBoundaryDate(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	wide := MidnightWindow(SpringForward)

	// A 23:30 hit on March 9 belongs to the March 10 boundary
	eve := time.Date(2024, 3, 9, 23, 30, 0, 0, ny)
	if got := BoundaryDate(eve, wide); !got.Equal(planner.Date(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))) {
		t.Errorf("eve hit resolved to %s, want 2024-03-10", got.Format(planner.DateLayout))
	}

	// A 01:10 hit on March 10 belongs to the March 10 boundary
	morning := time.Date(2024, 3, 10, 1, 10, 0, 0, ny)
	if got := BoundaryDate(morning, wide); !got.Equal(planner.Date(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))) {
		t.Errorf("morning hit resolved to %s, want 2024-03-10", got.Format(planner.DateLayout))
	}

	// Normal-window hits always resolve to the current date
	normal := MidnightWindow(TransitionNone)
	midnight := time.Date(2024, 1, 15, 0, 0, 0, 0, ny)
	if got := BoundaryDate(midnight, normal); !got.Equal(planner.Date(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))) {
		t.Errorf("normal hit resolved to %s, want 2024-01-15", got.Format(planner.DateLayout))
	}
}
