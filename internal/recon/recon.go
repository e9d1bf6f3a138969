// Package recon holds the reconciliation protocol: the pure rules both
// contexts apply when they decide whether an alarm or snooze is due, and
// whose view of the schedule wins after a restart.
//
// Every function here mutates a store.Record that the caller is holding
// inside a single Update() transaction. Checking the consumed marker and
// setting it happen on the same record in the same transaction, which is what
// makes "a given value never fires twice" hold even when both contexts race.
package recon

import (
	"time"

	"alarmd/internal/alert"
	"alarmd/internal/schedule"
	"alarmd/internal/store"
)

// Outcome describes what a check cycle decided. The caller performs the
// emissions (bus publish, platform alert, ring log) after the transaction
// commits; a crash between commit and emission loses at most one alert,
// bounded by the next poll.
type Outcome struct {
	Fired  bool
	Reason alert.Reason

	// Recalculated is true when NextDue changed and should be announced.
	Recalculated bool
	NextDue      *time.Time
}

// Evaluate runs one check cycle against rec at now. The snooze branch is
// checked first: an expiring snooze outranks the regular due time.
func Evaluate(rec *store.Record, now time.Time) Outcome {
	if out, ok := consumeSnooze(rec, now); ok {
		return out
	}
	if out, ok := consumeDue(rec, now); ok {
		return out
	}
	return Outcome{}
}

// consumeSnooze fires for an elapsed snooze window that has not been
// consumed yet. The snooze count is preserved: letting snoozes lapse must
// not refill the budget.
func consumeSnooze(rec *store.Record, now time.Time) (Outcome, bool) {
	su := rec.SnoozeUntil
	if su == nil || now.Before(*su) || equalTime(su, rec.LastConsumedSnoozeUntil) {
		return Outcome{}, false
	}

	rec.LastConsumedSnoozeUntil = su
	rec.SnoozeUntil = nil

	// A stale due value may have raced in during the snooze window; advance
	// it so the next cycle doesn't double-ring.
	if rec.NextDueAt != nil && !rec.NextDueAt.After(now) {
		stale := rec.NextDueAt
		rec.NextDueAt = recompute(rec, now)
		if rec.NextDueAt == nil {
			rec.LastConsumedDueAt = stale
		}
	}

	return Outcome{Fired: true, Reason: alert.ReasonSnoozeExpired}, true
}

// consumeDue fires for a reached due instant and rolls the cycle forward:
// the next due is recomputed from now and the snooze budget resets.
func consumeDue(rec *store.Record, now time.Time) (Outcome, bool) {
	due := rec.NextDueAt
	if !rec.Enabled || due == nil || now.Before(*due) || equalTime(due, rec.LastConsumedDueAt) {
		return Outcome{}, false
	}

	rec.LastConsumedDueAt = due
	rec.NextDueAt = recompute(rec, now)
	rec.SnoozeCount = 0

	return Outcome{
		Fired:        true,
		Reason:       alert.ReasonAlarmTime,
		Recalculated: true,
		NextDue:      rec.NextDueAt,
	}, true
}

func recompute(rec *store.Record, now time.Time) *time.Time {
	cfg, ok := rec.ScheduleConfig()
	if !ok {
		return nil
	}
	next, ok := schedule.NextDue(cfg, now)
	if !ok {
		return nil
	}
	return &next
}

// AdoptStored decides whose nextDueAt the foreground trusts on (re)start.
// The stored value wins iff it differs from the locally remembered one AND is
// still in the future: only the background context could have advanced the
// cycle while the foreground was away. A stale or matching stored value keeps
// the local computation.
func AdoptStored(local, stored *time.Time, now time.Time) (next *time.Time, adopted bool) {
	if stored == nil || !stored.After(now) {
		return local, false
	}
	if equalTime(stored, local) {
		return local, false
	}
	return stored, true
}

// SnoozeDisposition classifies a stored snoozeUntil on foreground start.
type SnoozeDisposition int

const (
	// SnoozeNone: nothing pending.
	SnoozeNone SnoozeDisposition = iota
	// SnoozeRearm: still in the future; arm a local fallback timer for the
	// remainder in case the background poll is delayed or dead.
	SnoozeRearm
	// SnoozeFireNow: expired within the last minute; ring immediately.
	SnoozeFireNow
	// SnoozeDropStale: expired long ago; clear silently.
	SnoozeDropStale
)

// snoozeRecoveryGrace bounds how late an expired snooze still rings on resume.
const snoozeRecoveryGrace = 60 * time.Second

func ClassifySnooze(snoozeUntil *time.Time, now time.Time) (SnoozeDisposition, time.Duration) {
	if snoozeUntil == nil {
		return SnoozeNone, 0
	}
	if snoozeUntil.After(now) {
		return SnoozeRearm, snoozeUntil.Sub(now)
	}
	if now.Sub(*snoozeUntil) <= snoozeRecoveryGrace {
		return SnoozeFireNow, 0
	}
	return SnoozeDropStale, 0
}

// MissedGrace bounds how late a missed due instant still rings when the
// foreground resumes after a suspension.
const MissedGrace = 5 * time.Minute

// MissedDisposition classifies a stored due instant on foreground resume.
type MissedDisposition int

const (
	// MissedNone: due is in the future (or absent); re-arm normally.
	MissedNone MissedDisposition = iota
	// MissedFireNow: missed recently; fire immediately.
	MissedFireNow
	// MissedDropStale: too stale; recompute silently, never alert.
	MissedDropStale
)

func ClassifyMissed(due *time.Time, now time.Time) MissedDisposition {
	if due == nil || due.After(now) {
		return MissedNone
	}
	if now.Sub(*due) < MissedGrace {
		return MissedFireNow
	}
	return MissedDropStale
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
