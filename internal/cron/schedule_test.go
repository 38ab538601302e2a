package cron

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
		ok   bool
	}{
		{"in 2 hours", now.Add(2 * time.Hour), true},
		{"In 1 Minute", now.Add(time.Minute), true},
		{"in 3 weeks", now.Add(21 * 24 * time.Hour), true},
		{"in 10 seconds", now.Add(10 * time.Second), true},
		{"tomorrow at 9am", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), true},
		{"today at 5:30 pm", time.Date(2025, 6, 1, 17, 30, 0, 0, time.UTC), true},
		{"today at noon", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), true},
		{"tomorrow at 12am", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), true},
		{"2026-03-01 14:00", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"2026-03-01T14:00:00+02:00", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), true},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"March 1 at 2pm", time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"Jul 4 15:04", time.Date(2025, 7, 4, 15, 4, 0, 0, time.UTC), true},
		{"January 2, 2027 9:15am", time.Date(2027, 1, 2, 9, 15, 0, 0, time.UTC), true},
		{"tomorrow at 25:00", time.Time{}, false},
		{"in a while", time.Time{}, false},
		{"next tuesday-ish", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := ParseTime(tt.expr, now)
			if ok != tt.ok {
				t.Fatalf("ParseTime(%q) ok = %v, want %v", tt.expr, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.expr, got, tt.want)
			}
			if ok && got.Location() != time.UTC {
				t.Errorf("ParseTime(%q) location = %v, want UTC", tt.expr, got.Location())
			}
		})
	}
}

func TestParseTimeUsesLocation(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	got, ok := ParseTime("tomorrow at 9am", now)
	if !ok {
		t.Fatal("expected parse")
	}
	if want := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
