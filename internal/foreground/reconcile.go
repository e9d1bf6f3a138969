package foreground

import (
	"time"

	"alarmd/internal/lifecycle"
	"alarmd/internal/recon"
	"alarmd/internal/schedule"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// dropStalePending consumes pending instants that are too old to ring,
// inside the caller's transaction. A due instant missed within the grace
// window and a snooze expired within the last minute are left in place for
// the check cycle that follows; anything older is marked consumed without an
// alert and the due cycle rolls forward.
func dropStalePending(r *store.Record, now time.Time, log logx.Logger) {
	if disp, _ := recon.ClassifySnooze(r.SnoozeUntil, now); disp == recon.SnoozeDropStale {
		log.Info("dropping stale snooze window",
			logx.Time("snooze_until", *r.SnoozeUntil))
		r.LastConsumedSnoozeUntil = r.SnoozeUntil
		r.SnoozeUntil = nil
	}
	if recon.ClassifyMissed(r.NextDueAt, now) == recon.MissedDropStale {
		log.Info("dropping stale due instant",
			logx.Time("next_due", *r.NextDueAt))
		r.LastConsumedDueAt = r.NextDueAt
		r.NextDueAt = recomputeNext(r, now)
		// No budget reset: the user was never alerted for this cycle.
	}
}

// intentChanged reports whether sc differs from the intent already persisted
// in r. An unchanged intent must not clear the pending cycle on restart.
func intentChanged(r *store.Record, sc schedule.Config) bool {
	cur, ok := r.ScheduleConfig()
	if !ok {
		return true
	}
	if cur.Hour != sc.Hour || cur.Minute != sc.Minute ||
		cur.Recurrence != sc.Recurrence || cur.Enabled != sc.Enabled {
		return true
	}
	return !sameDay(cur.Anchor, sc.Anchor)
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() == b.IsZero()
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// restoreMachine derives the lifecycle state from the persisted record. The
// store is the source of truth after any restart; the machine is a cache.
func restoreMachine(rec store.Record) *lifecycle.Machine {
	state := lifecycle.StateIdle
	switch {
	case rec.SnoozeUntil != nil:
		state = lifecycle.StateSnoozed
	case rec.Enabled && rec.NextDueAt != nil:
		state = lifecycle.StateScheduled
	}
	return lifecycle.Restore(state, rec.SnoozeCount, rec.SnoozeLimit)
}

func recomputeNext(r *store.Record, now time.Time) *time.Time {
	cfg, ok := r.ScheduleConfig()
	if !ok {
		return nil
	}
	next, ok := schedule.NextDue(cfg, now)
	if !ok {
		return nil
	}
	return &next
}
