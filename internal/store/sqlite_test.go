package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"alarmd/internal/schedule"
	logx "alarmd/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "alarmd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()
	st := openTest(t)

	rec, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Enabled {
		t.Fatal("fresh store must be disabled")
	}
	if rec.SnoozeLimit != 3 {
		t.Fatalf("default snooze limit = %d, want 3", rec.SnoozeLimit)
	}
	if _, ok := rec.ScheduleConfig(); ok {
		t.Fatal("fresh store must have no schedule config")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	anchor := time.Date(2025, 12, 5, 0, 0, 0, 0, time.Local)
	cfg := schedule.Config{
		Hour: 7, Minute: 30,
		Recurrence: schedule.RecurrenceEveryOtherDay,
		Anchor:     anchor,
		Enabled:    true,
	}
	due := time.Date(2025, 12, 5, 7, 30, 0, 0, time.Local)

	_, err := st.Update(ctx, func(r *Record) error {
		r.SetSchedule(cfg)
		r.NextDueAt = &due
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := rec.ScheduleConfig()
	if !ok {
		t.Fatal("schedule config not persisted")
	}
	if got.Hour != 7 || got.Minute != 30 || got.Recurrence != schedule.RecurrenceEveryOtherDay {
		t.Fatalf("round-tripped config mismatch: %+v", got)
	}
	if !got.Anchor.Equal(anchor) {
		t.Fatalf("anchor = %v, want %v", got.Anchor, anchor)
	}
	if rec.NextDueAt == nil || !rec.NextDueAt.Equal(due) {
		t.Fatalf("next due = %v, want %v", rec.NextDueAt, due)
	}
}

func TestSetScheduleClearsPendingState(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	until := time.Now().Add(5 * time.Minute)
	_, err := st.Update(ctx, func(r *Record) error {
		r.SetSchedule(schedule.Config{Hour: 7, Minute: 0, Recurrence: schedule.RecurrenceDaily, Enabled: true})
		r.SnoozeUntil = &until
		r.SnoozeCount = 2
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Changing the alarm time must clear snooze state, whatever it was.
	rec, err := st.Update(ctx, func(r *Record) error {
		r.SetSchedule(schedule.Config{Hour: 8, Minute: 0, Recurrence: schedule.RecurrenceDaily, Enabled: true})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.SnoozeUntil != nil || rec.SnoozeCount != 0 || rec.NextDueAt != nil {
		t.Fatalf("pending state not cleared: %+v", rec)
	}
}

func TestUpdateAbortsWithoutWriting(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	sentinel := errors.New("nope")
	_, err := st.Update(ctx, func(r *Record) error {
		r.Enabled = true
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Update error = %v, want sentinel", err)
	}

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Enabled {
		t.Fatal("aborted update must not persist")
	}
}

func TestRingLog(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := st.AppendRing(ctx, RingEntry{EventID: "ev", Reason: "alarm_time", SnoozeCount: i})
		if err != nil {
			t.Fatalf("AppendRing: %v", err)
		}
	}
	got, err := st.RecentRings(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].SnoozeCount != 2 {
		t.Fatalf("order wrong: %+v", got)
	}
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	sub := PushSubscription{Endpoint: "https://push.example/ep1", P256dh: "key", Auth: "auth"}
	if err := st.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	// Upsert on the same endpoint.
	sub.Auth = "auth2"
	if err := st.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription upsert: %v", err)
	}

	subs, err := st.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Auth != "auth2" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}

	if err := st.DeleteSubscription(ctx, sub.Endpoint); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	subs, err = st.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("subscription not deleted: %+v", subs)
	}
}
