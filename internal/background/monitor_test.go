package background

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"alarmd/internal/alert"
	"alarmd/internal/eventbus"
	"alarmd/internal/lifecycle"
	"alarmd/internal/notifier"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

type captureChannel struct {
	mu   sync.Mutex
	sent []notifier.Alert
	fail error
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(_ context.Context, a notifier.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, a)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type handedRing struct {
	reason      alert.Reason
	snoozeCount int
	snoozeLimit int
}

type fakeSurface struct {
	mu    sync.Mutex
	up    bool
	rings []handedRing
}

func (f *fakeSurface) Up() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeSurface) TakeRing(reason alert.Reason, snoozeCount, snoozeLimit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rings = append(f.rings, handedRing{reason, snoozeCount, snoozeLimit})
}

func (f *fakeSurface) handed() []handedRing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]handedRing(nil), f.rings...)
}

func newTestMonitor(t *testing.T, fgUp bool) (*Monitor, store.Store, *captureChannel, *fakeSurface, <-chan alert.Event, clock.FakeClock) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "alarm.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ch := &captureChannel{}
	svc := notifier.New(notifier.Config{RatePerSec: 100}, logx.Nop(), ch)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	t.Cleanup(unsub)

	clk := clock.NewFake()
	fg := &fakeSurface{up: fgUp}
	m := New(Config{PollInterval: time.Second}, st, bus, svc, clk, fg, logx.Nop())
	return m, st, ch, fg, events, clk
}

func drainKinds(events <-chan alert.Event) []alert.Kind {
	var kinds []alert.Kind
	for {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
		default:
			return kinds
		}
	}
}

func hasKind(kinds []alert.Kind, k alert.Kind) bool {
	for _, got := range kinds {
		if got == k {
			return true
		}
	}
	return false
}

func TestCheckFiresExpiredSnoozeOnce(t *testing.T) {
	t.Parallel()
	m, st, ch, _, events, clk := newTestMonitor(t, false)
	ctx := context.Background()

	until := clk.Now().Add(-30 * time.Second)
	if _, err := st.Update(ctx, func(r *store.Record) error {
		r.SnoozeUntil = &until
		r.SnoozeCount = 2
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m.Check(ctx)

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.SnoozeUntil != nil {
		t.Fatalf("snooze window not cleared: %v", rec.SnoozeUntil)
	}
	if rec.SnoozeCount != 2 {
		t.Fatalf("snooze count = %d, want preserved 2", rec.SnoozeCount)
	}
	if got := ch.count(); got != 1 {
		t.Fatalf("platform alerts = %d, want 1", got)
	}
	kinds := drainKinds(events)
	if !hasKind(kinds, alert.KindAlarmDue) {
		t.Fatalf("events = %v, want alarm due", kinds)
	}

	// Polling again at the same instant must not re-fire.
	m.Check(ctx)
	if got := ch.count(); got != 1 {
		t.Fatalf("alerts after second poll = %d, want still 1", got)
	}
	if kinds := drainKinds(events); hasKind(kinds, alert.KindAlarmDue) {
		t.Fatalf("second poll re-fired: %v", kinds)
	}

	rings, err := st.RecentRings(ctx, 10)
	if err != nil {
		t.Fatalf("rings: %v", err)
	}
	if len(rings) != 1 {
		t.Fatalf("ring entries = %d, want 1", len(rings))
	}
	if rings[0].SnoozeCount != 2 {
		t.Fatalf("ring snooze count = %d, want 2", rings[0].SnoozeCount)
	}
}

func TestCheckFiresDueAndRecalculates(t *testing.T) {
	t.Parallel()
	m, st, ch, _, events, clk := newTestMonitor(t, false)
	ctx := context.Background()

	hour, minute := 7, 0
	// Stored instants round-trip at millisecond precision.
	due := clk.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if _, err := st.Update(ctx, func(r *store.Record) error {
		r.Enabled = true
		r.AlarmHour = &hour
		r.AlarmMinute = &minute
		r.NextDueAt = &due
		r.SnoozeCount = 1
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m.Check(ctx)

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.SnoozeCount != 0 {
		t.Fatalf("snooze count = %d, want reset to 0", rec.SnoozeCount)
	}
	if rec.NextDueAt == nil || !rec.NextDueAt.After(clk.Now()) {
		t.Fatalf("next due not advanced: %v", rec.NextDueAt)
	}
	if rec.LastConsumedDueAt == nil || !rec.LastConsumedDueAt.Equal(due) {
		t.Fatalf("consumed marker = %v, want %v", rec.LastConsumedDueAt, due)
	}
	if got := ch.count(); got != 1 {
		t.Fatalf("platform alerts = %d, want 1", got)
	}
	kinds := drainKinds(events)
	if !hasKind(kinds, alert.KindAlarmDue) || !hasKind(kinds, alert.KindNextAlarmRecalculated) {
		t.Fatalf("events = %v, want due + recalculated", kinds)
	}

	m.Check(ctx)
	if got := ch.count(); got != 1 {
		t.Fatalf("alerts after second poll = %d, want still 1", got)
	}
}

func TestCheckHandsRingToForegroundWhenUp(t *testing.T) {
	t.Parallel()
	m, st, ch, fg, events, clk := newTestMonitor(t, true)
	ctx := context.Background()

	until := clk.Now().Add(-time.Second)
	if _, err := st.Update(ctx, func(r *store.Record) error {
		r.SnoozeUntil = &until
		r.SnoozeCount = 2
		r.SnoozeLimit = 3
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m.Check(ctx)

	if got := ch.count(); got != 0 {
		t.Fatalf("platform alerts = %d, want 0 with foreground up", got)
	}
	handed := fg.handed()
	if len(handed) != 1 {
		t.Fatalf("rings handed to foreground = %d, want 1", len(handed))
	}
	if handed[0].reason != alert.ReasonSnoozeExpired {
		t.Fatalf("handed reason = %s, want snooze expired", handed[0].reason)
	}
	if handed[0].snoozeCount != 2 || handed[0].snoozeLimit != 3 {
		t.Fatalf("handed budget = %d/%d, want 2/3", handed[0].snoozeCount, handed[0].snoozeLimit)
	}
	if kinds := drainKinds(events); !hasKind(kinds, alert.KindAlarmDue) {
		t.Fatalf("events = %v, bus publish must happen regardless", kinds)
	}
}

func TestCheckConsumedDueStillRingsOnceWithForegroundUp(t *testing.T) {
	t.Parallel()
	m, st, ch, fg, _, clk := newTestMonitor(t, true)
	ctx := context.Background()

	hour, minute := 7, 0
	due := clk.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if _, err := st.Update(ctx, func(r *store.Record) error {
		r.Enabled = true
		r.AlarmHour = &hour
		r.AlarmMinute = &minute
		r.NextDueAt = &due
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m.Check(ctx)

	// The monitor consumed the due value, so the marker blocks a second
	// surfacing anywhere. The handoff must be the one visible ring.
	if got, want := len(fg.handed()), 1; got != want {
		t.Fatalf("rings handed to foreground = %d, want %d", got, want)
	}
	if got := ch.count(); got != 0 {
		t.Fatalf("platform alerts = %d, want 0", got)
	}

	m.Check(ctx)
	if got := len(fg.handed()); got != 1 {
		t.Fatalf("rings after second poll = %d, want still 1", got)
	}
}

func TestRequestSnoozeSetsWindowAndCounts(t *testing.T) {
	t.Parallel()
	m, st, _, _, events, clk := newTestMonitor(t, false)
	ctx := context.Background()

	if _, err := st.Update(ctx, func(r *store.Record) error {
		r.SnoozeCount = 1
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := m.RequestSnooze(ctx, 5); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := clk.Now().Add(5 * time.Minute).Truncate(time.Millisecond)
	if rec.SnoozeUntil == nil || !rec.SnoozeUntil.Truncate(time.Millisecond).Equal(want) {
		t.Fatalf("snooze until = %v, want %v", rec.SnoozeUntil, want)
	}
	if rec.SnoozeCount != 2 {
		t.Fatalf("snooze count = %d, want 2", rec.SnoozeCount)
	}
	if rec.LastConsumedSnoozeUntil != nil {
		t.Fatalf("stale consumed marker kept: %v", rec.LastConsumedSnoozeUntil)
	}
	if kinds := drainKinds(events); !hasKind(kinds, alert.KindSnoozeRequested) {
		t.Fatalf("events = %v, want snooze requested", kinds)
	}
}

func TestRequestSnoozeAtLimitRejectsWithoutMutation(t *testing.T) {
	t.Parallel()
	m, st, ch, _, events, _ := newTestMonitor(t, false)
	ctx := context.Background()

	if _, err := st.Update(ctx, func(r *store.Record) error {
		r.SnoozeCount = 3
		r.SnoozeLimit = 3
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	err = m.RequestSnooze(ctx, 5)
	if !errors.Is(err, lifecycle.ErrSnoozeLimit) {
		t.Fatalf("err = %v, want ErrSnoozeLimit", err)
	}

	after, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if after.SnoozeCount != before.SnoozeCount || after.SnoozeUntil != nil {
		t.Fatalf("record mutated on rejected snooze: %+v", after)
	}
	if kinds := drainKinds(events); !hasKind(kinds, alert.KindSnoozeLimitReached) {
		t.Fatalf("events = %v, want limit reached", kinds)
	}
	if got := ch.count(); got != 1 {
		t.Fatalf("platform alerts = %d, want 1 limit alert", got)
	}
}
