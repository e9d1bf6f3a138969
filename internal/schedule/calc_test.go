package schedule

import (
	"testing"
	"time"
)

func dailyAt(h, m int) Config {
	return Config{Hour: h, Minute: m, Recurrence: RecurrenceDaily, Enabled: true}
}

func everyOtherAt(h, m int, anchor time.Time) Config {
	return Config{Hour: h, Minute: m, Recurrence: RecurrenceEveryOtherDay, Anchor: anchor, Enabled: true}
}

func TestNextDueDaily(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "before today's slot",
			from: time.Date(2025, 12, 5, 6, 0, 0, 0, time.UTC),
			want: time.Date(2025, 12, 5, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "after today's slot",
			from: time.Date(2025, 12, 5, 8, 0, 0, 0, time.UTC),
			want: time.Date(2025, 12, 6, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly on the slot counts as passed",
			from: time.Date(2025, 12, 5, 7, 0, 0, 0, time.UTC),
			want: time.Date(2025, 12, 6, 7, 0, 0, 0, time.UTC),
		},
	}
	cfg := dailyAt(7, 0)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextDue(cfg, tt.from)
			if !ok {
				t.Fatal("NextDue returned !ok")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDueProperties(t *testing.T) {
	t.Parallel()
	cfg := dailyAt(23, 45)
	froms := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC),
	}
	for _, from := range froms {
		got, ok := NextDue(cfg, from)
		if !ok {
			t.Fatal("NextDue returned !ok")
		}
		if !got.After(from) {
			t.Fatalf("NextDue(%v) = %v is not after from", from, got)
		}
		if got.Hour() != cfg.Hour || got.Minute() != cfg.Minute {
			t.Fatalf("NextDue(%v) = %v lost hour/minute", from, got)
		}
		// Pure function: identical inputs, identical output.
		again, _ := NextDue(cfg, from)
		if !again.Equal(got) {
			t.Fatalf("NextDue not idempotent: %v vs %v", got, again)
		}
	}
}

func TestNextDueEveryOtherDay(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)
	cfg := everyOtherAt(7, 0, anchor)

	// Dec 5 is an alarm day. At 09:00 the slot has passed and Dec 6 has the
	// wrong parity, so the next ring is Dec 7.
	from := time.Date(2025, 12, 5, 9, 0, 0, 0, time.UTC)
	got, ok := NextDue(cfg, from)
	if !ok {
		t.Fatal("NextDue returned !ok")
	}
	want := time.Date(2025, 12, 7, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextDue = %v, want %v", got, want)
	}

	// Parity invariant over a spread of reference instants.
	for day := 0; day < 10; day++ {
		f := time.Date(2025, 12, 1+day, 3, 0, 0, 0, time.UTC)
		due, ok := NextDue(cfg, f)
		if !ok {
			t.Fatal("NextDue returned !ok")
		}
		if d := calendarDayDiff(due, anchor); mod(d, 2) != 0 {
			t.Fatalf("from %v: due %v has odd day diff %d", f, due, d)
		}
	}
}

func TestNextDueBeforeAnchor(t *testing.T) {
	t.Parallel()
	// Candidate before the anchor: diff is negative and must still classify
	// parity correctly (mathematical modulo, not truncation).
	anchor := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	cfg := everyOtherAt(7, 0, anchor)

	from := time.Date(2025, 12, 5, 6, 0, 0, 0, time.UTC)
	got, ok := NextDue(cfg, from)
	if !ok {
		t.Fatal("NextDue returned !ok")
	}
	// Dec 5 is 10 days before the anchor: even diff, valid alarm day.
	want := time.Date(2025, 12, 5, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextDue = %v, want %v", got, want)
	}
}

func TestNextDueAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// US DST starts 2025-03-09; that local day is 23 hours long.
	anchor := time.Date(2025, 3, 7, 0, 0, 0, 0, loc)
	cfg := everyOtherAt(7, 0, anchor)

	from := time.Date(2025, 3, 8, 9, 0, 0, 0, loc)
	got, ok := NextDue(cfg, from)
	if !ok {
		t.Fatal("NextDue returned !ok")
	}
	// Mar 8 has odd parity, Mar 9 (the transition day) is the alarm day and
	// the wall-clock time must still read 07:00.
	if got.Year() != 2025 || got.Month() != time.March || got.Day() != 9 {
		t.Fatalf("NextDue landed on %v, want Mar 9", got)
	}
	if got.Hour() != 7 || got.Minute() != 0 {
		t.Fatalf("NextDue = %v lost wall-clock time across DST", got)
	}
}

func TestIsWorkDay(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)
	cfg := everyOtherAt(7, 0, anchor)

	if !IsWorkDay(cfg, anchor) {
		t.Fatal("anchor day must be a work day")
	}
	if IsWorkDay(cfg, anchor.AddDate(0, 0, 1)) {
		t.Fatal("day after anchor must not be a work day")
	}
	if !IsWorkDay(cfg, anchor.AddDate(0, 0, -2)) {
		t.Fatal("two days before anchor must be a work day")
	}
	if !IsWorkDay(dailyAt(7, 0), anchor.AddDate(0, 0, 3)) {
		t.Fatal("daily recurrence: every day is a work day")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid daily", cfg: dailyAt(0, 0)},
		{name: "hour too big", cfg: Config{Hour: 24, Recurrence: RecurrenceDaily}, wantErr: true},
		{name: "negative minute", cfg: Config{Hour: 7, Minute: -1, Recurrence: RecurrenceDaily}, wantErr: true},
		{name: "unknown recurrence", cfg: Config{Hour: 7, Recurrence: "weekly"}, wantErr: true},
		{name: "every-other-day without anchor", cfg: Config{Hour: 7, Recurrence: RecurrenceEveryOtherDay}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextDueDisabled(t *testing.T) {
	t.Parallel()
	cfg := dailyAt(7, 0)
	cfg.Enabled = false
	if _, ok := NextDue(cfg, time.Now()); ok {
		t.Fatal("disabled config must not produce a due instant")
	}
}
