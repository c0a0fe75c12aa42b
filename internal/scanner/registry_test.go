package scanner

import (
	"context"
	"testing"
	"time"
)

func noopScan(ctx context.Context, now time.Time) error { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Scan{
		ID:      "test-scan",
		Cron:    "* * * * *",
		Run:     noopScan,
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Count() != 1 {
		t.Errorf("expected 1 scan, got %d", r.Count())
	}

	if _, exists := r.Get("test-scan"); !exists {
		t.Error("expected registered scan to be retrievable")
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		scan *Scan
	}{
		{"empty ID", &Scan{ID: "", Cron: "* * * * *", Run: noopScan}},
		{"invalid ID characters", &Scan{ID: "bad id!", Cron: "* * * * *", Run: noopScan}},
		{"empty cron", &Scan{ID: "ok", Cron: "", Run: noopScan}},
		{"invalid cron", &Scan{ID: "ok", Cron: "not a cron", Run: noopScan}},
		{"six-field cron", &Scan{ID: "ok", Cron: "0 * * * * *", Run: noopScan}},
		{"nil run", &Scan{ID: "ok", Cron: "* * * * *", Run: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Register(tt.scan); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := NewRegistry()
	scan := &Scan{ID: "dup", Cron: "* * * * *", Run: noopScan}

	if err := r.Register(scan); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(scan); err == nil {
		t.Error("expected duplicate ID to be rejected")
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustRegister to panic on invalid scan")
		}
	}()

	r := NewRegistry()
	r.MustRegister(&Scan{ID: "", Cron: "* * * * *", Run: noopScan})
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	r := NewRegistry()
	ids := []string{"third", "first", "second"}
	for _, id := range ids {
		r.MustRegister(&Scan{ID: id, Cron: "* * * * *", Run: noopScan, Enabled: true})
	}

	listed := r.List()
	if len(listed) != 3 {
		t.Fatalf("expected 3 scans, got %d", len(listed))
	}
	for i, scan := range listed {
		if scan.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], scan.ID)
		}
	}
}

func TestRegistry_Due(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Scan{ID: "minutely", Cron: "* * * * *", Run: noopScan, Enabled: true})
	r.MustRegister(&Scan{ID: "five", Cron: "*/5 * * * *", Run: noopScan, Enabled: true})
	r.MustRegister(&Scan{ID: "off", Cron: "* * * * *", Run: noopScan, Enabled: false})

	now := time.Date(2024, 1, 15, 10, 2, 0, 0, time.UTC)

	// Never-run scans are due immediately
	if !r.Due("minutely", now) {
		t.Error("expected a never-run scan to be due")
	}
	if r.Due("off", now) {
		t.Error("expected a disabled scan to never be due")
	}
	if r.Due("missing", now) {
		t.Error("expected an unknown scan to never be due")
	}

	// A minutely scan that just ran is not due within the same minute
	r.MarkRun("minutely", now)
	if r.Due("minutely", now.Add(30*time.Second)) {
		t.Error("expected minutely scan to wait for the next minute")
	}
	if !r.Due("minutely", now.Add(time.Minute)) {
		t.Error("expected minutely scan to be due a minute later")
	}

	// A */5 scan ran at 10:02: next firing is 10:05
	r.MarkRun("five", now)
	if r.Due("five", now.Add(2*time.Minute)) {
		t.Error("expected five-minute scan to skip 10:04")
	}
	if !r.Due("five", now.Add(3*time.Minute)) {
		t.Error("expected five-minute scan to be due at 10:05")
	}
}

func TestRegistry_LastRun(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Scan{ID: "scan", Cron: "* * * * *", Run: noopScan, Enabled: true})

	if !r.LastRun("scan").IsZero() {
		t.Error("expected zero last run before any MarkRun")
	}

	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	r.MarkRun("scan", at)

	if !r.LastRun("scan").Equal(at) {
		t.Errorf("expected last run %v, got %v", at, r.LastRun("scan"))
	}
}
