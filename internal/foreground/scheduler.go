// Package foreground is the user-facing execution context: it keeps exactly
// one pending timer armed while the alarm is enabled, owns schedule edits,
// and reconciles against wall-clock drift whenever it comes back from a
// suspension. It shares no memory with the background monitor; every decision
// that matters goes through the store's transaction.
package foreground

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"alarmd/internal/alert"
	"alarmd/internal/eventbus"
	"alarmd/internal/lifecycle"
	"alarmd/internal/recon"
	"alarmd/internal/schedule"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// maxTimerChunk caps any single armed timer. Platform timers get clamped or
// dropped past roughly a day of wall time, and the host may suspend outright,
// so long gaps are covered by a chain of sub-day timers that each recompute
// and re-arm.
const maxTimerChunk = 24 * time.Hour

// storeRetryBackoff floors the re-arm delay after a failed store
// transaction. The in-memory view is kept and carried forward by the next
// attempt; an immediate re-arm on an already-elapsed instant would spin
// against a down store.
const storeRetryBackoff = 30 * time.Second

type Config struct {
	// SnoozeMinutes is the snooze window length. Zero means 5 minutes.
	SnoozeMinutes int
	// SnoozeLimit is the per-cycle snooze budget. Zero means 3.
	SnoozeLimit int
}

func (c Config) withDefaults() Config {
	if c.SnoozeMinutes <= 0 {
		c.SnoozeMinutes = 5
	}
	if c.SnoozeLimit <= 0 {
		c.SnoozeLimit = 3
	}
	return c
}

// Callbacks surface scheduler decisions to the UI layer. Either may be nil.
type Callbacks struct {
	// OnRing locks the surface into the ring state until Dismiss or
	// RequestSnooze completes it.
	OnRing func(reason alert.Reason, snoozeCount, snoozeLimit int)
	// OnNextDueUpdate reports the next due instant, nil when disarmed.
	OnNextDueUpdate func(next *time.Time)
}

type Scheduler struct {
	cfg Config
	st  store.Store
	bus eventbus.Bus
	clk clock.Clock
	log logx.Logger
	cb  Callbacks

	mu            sync.Mutex
	machine       *lifecycle.Machine
	localNext     *time.Time
	pendingSnooze *time.Time
	dueTimer      *time.Timer
	snoozeTimer   *time.Timer
	lastZone      string
	up            bool
}

func New(cfg Config, st store.Store, bus eventbus.Bus, clk clock.Clock, log logx.Logger, cb Callbacks) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		st:      st,
		bus:     bus,
		clk:     clk,
		log:     log,
		cb:      cb,
		machine: lifecycle.New(cfg.withDefaults().SnoozeLimit),
	}
}

// Up reports whether this context is alive. The background monitor checks it
// to decide where a consumed ring surfaces.
func (s *Scheduler) Up() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

// NextDue returns the locally remembered next due instant, nil when idle.
func (s *Scheduler) NextDue() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localNext == nil {
		return nil
	}
	t := *s.localNext
	return &t
}

// Init installs the user intent, reconciles against whatever the store
// already holds, and arms the timer chain. Safe to call again with a changed
// config; a change of alarm time always clears the pending cycle.
func (s *Scheduler) Init(ctx context.Context, sc schedule.Config) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if !sc.Enabled {
		return s.Stop(ctx)
	}

	now := s.clk.Now()
	s.noteZone(now)

	local, _ := schedule.NextDue(sc, now)

	rec, err := s.st.Update(ctx, func(r *store.Record) error {
		if intentChanged(r, sc) {
			r.SetSchedule(sc)
		}
		r.SnoozeLimit = s.cfg.SnoozeLimit

		chosen, adopted := recon.AdoptStored(&local, r.NextDueAt, now)
		r.NextDueAt = chosen
		if adopted {
			s.log.Info("adopted store-advanced due instant",
				logx.Time("next_due", *chosen))
		}
		dropStalePending(r, now, s.log)
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.up = true
	s.machine = restoreMachine(rec)
	s.syncLocked(rec)
	s.mu.Unlock()

	s.notifyNextDue(rec.NextDueAt)
	if rec.NextDueAt != nil {
		s.bus.Publish(alert.NextAlarmRecalculated(*rec.NextDueAt))
	}

	// Anything that expired within grace while we were away rings now.
	s.check(ctx)
	return nil
}

// UpdateConfig replaces the schedule. The pending cycle, snooze window, and
// snooze budget are cleared in the same transaction that installs the new
// intent, then the chain re-arms from the fresh computation.
func (s *Scheduler) UpdateConfig(ctx context.Context, sc schedule.Config) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if !sc.Enabled {
		return s.Stop(ctx)
	}

	now := s.clk.Now()
	rec, err := s.st.Update(ctx, func(r *store.Record) error {
		r.SetSchedule(sc)
		r.SnoozeLimit = s.cfg.SnoozeLimit
		if next, ok := schedule.NextDue(sc, now); ok {
			r.NextDueAt = &next
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.machine = lifecycle.New(s.cfg.SnoozeLimit)
	s.machine.Schedule()
	s.syncLocked(rec)
	s.mu.Unlock()

	s.notifyNextDue(rec.NextDueAt)
	if rec.NextDueAt != nil {
		s.bus.Publish(alert.NextAlarmRecalculated(*rec.NextDueAt))
	}
	return nil
}

// Stop disables the alarm: local timers disarm and the shared pending state
// clears synchronously, so a ghost alert can never fire for a schedule the
// user already turned off.
func (s *Scheduler) Stop(ctx context.Context) error {
	_, err := s.st.Update(ctx, func(r *store.Record) error {
		r.Enabled = false
		r.ClearPending()
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.disarmLocked()
	s.localNext = nil
	s.pendingSnooze = nil
	s.machine.Disable()
	s.mu.Unlock()

	s.notifyNextDue(nil)
	s.log.Info("alarm disabled")
	return nil
}

// Shutdown disarms local timers without touching the shared state. For
// process exit: the background context carries on from the store alone.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
	s.up = false
}

// Resume reconciles after a suspension (device sleep, surface hidden). A due
// instant missed within the grace window fires immediately; anything staler
// is dropped silently and recomputed; a future instant just re-arms with the
// corrected remaining delta.
func (s *Scheduler) Resume(ctx context.Context) error {
	now := s.clk.Now()
	s.noteZone(now)

	rec, err := s.st.Update(ctx, func(r *store.Record) error {
		dropStalePending(r, now, s.log)
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.machine = restoreMachine(rec)
	s.syncLocked(rec)
	s.mu.Unlock()
	s.notifyNextDue(rec.NextDueAt)

	s.check(ctx)
	return nil
}

// Dismiss completes a ring. The next due instant is recomputed from now, not
// from the original due time, so a late dismissal cannot re-fire instantly.
func (s *Scheduler) Dismiss(ctx context.Context) error {
	s.mu.Lock()
	err := s.machine.Dismiss()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	now := s.clk.Now()
	rec, uerr := s.st.Update(ctx, func(r *store.Record) error {
		r.SnoozeUntil = nil
		r.SnoozeCount = 0
		if next := recomputeNext(r, now); next != nil {
			r.NextDueAt = next
		} else {
			r.NextDueAt = nil
		}
		return nil
	})
	if uerr != nil {
		return uerr
	}

	s.mu.Lock()
	s.machine.Schedule()
	s.syncLocked(rec)
	s.mu.Unlock()

	s.notifyNextDue(rec.NextDueAt)
	if rec.NextDueAt != nil {
		s.bus.Publish(alert.NextAlarmRecalculated(*rec.NextDueAt))
	}
	s.log.Info("alarm dismissed")
	return nil
}

// RequestSnooze snoozes an active ring. At the limit nothing mutates and the
// caller must keep the ring surface up; there is no quiet path past the
// budget.
func (s *Scheduler) RequestSnooze(ctx context.Context, minutes int) error {
	s.mu.Lock()
	state := s.machine.State()
	s.mu.Unlock()
	if state != lifecycle.StateRinging {
		return lifecycle.ErrBadTransition
	}
	if minutes <= 0 {
		minutes = s.cfg.SnoozeMinutes
	}

	now := s.clk.Now()
	rec, err := s.st.Update(ctx, func(r *store.Record) error {
		if r.SnoozeCount >= r.SnoozeLimit {
			return lifecycle.ErrSnoozeLimit
		}
		until := now.Add(time.Duration(minutes) * time.Minute)
		r.SnoozeUntil = &until
		r.SnoozeCount++
		r.LastConsumedSnoozeUntil = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrSnoozeLimit) {
			s.bus.Publish(alert.SnoozeLimitReached())
		}
		return err
	}

	s.mu.Lock()
	s.machine = lifecycle.Restore(lifecycle.StateSnoozed, rec.SnoozeCount, rec.SnoozeLimit)
	s.syncLocked(rec)
	s.mu.Unlock()

	s.log.Info("snoozed",
		logx.Int("minutes", minutes),
		logx.Int("count", rec.SnoozeCount),
		logx.Int("limit", rec.SnoozeLimit))
	s.bus.Publish(alert.SnoozeRequested(minutes))
	return nil
}

// TakeRing accepts a ring the background context already consumed. The
// store's markers make sure exactly one context consumes a value; whichever
// did hands the ring here so the user-visible surface still locks into the
// ring state.
func (s *Scheduler) TakeRing(reason alert.Reason, snoozeCount, snoozeLimit int) {
	s.mu.Lock()
	s.machine = lifecycle.Restore(lifecycle.StateRinging, snoozeCount, snoozeLimit)
	s.mu.Unlock()

	s.log.Info("ring handed over",
		logx.String("reason", string(reason)),
		logx.Int("snooze_count", snoozeCount))
	if s.cb.OnRing != nil {
		s.cb.OnRing(reason, snoozeCount, snoozeLimit)
	}
}

// check runs one consume cycle at the current instant and re-arms from the
// committed state. Both timer callbacks funnel here: whichever instant
// elapsed, the reconciliation rules decide what fires.
func (s *Scheduler) check(ctx context.Context) {
	now := s.clk.Now()

	var out recon.Outcome
	rec, err := s.st.Update(ctx, func(r *store.Record) error {
		out = recon.Evaluate(r, now)
		return nil
	})
	if err != nil {
		s.log.Warn("check: store update failed", logx.Err(err))
		s.mu.Lock()
		s.armRetryLocked()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if out.Fired {
		s.machine = lifecycle.Restore(lifecycle.StateRinging, rec.SnoozeCount, rec.SnoozeLimit)
	}
	s.syncLocked(rec)
	s.mu.Unlock()

	if out.Fired {
		s.emitRing(ctx, out, rec, now)
	}
	s.notifyNextDue(rec.NextDueAt)
	if out.Recalculated && out.NextDue != nil {
		s.bus.Publish(alert.NextAlarmRecalculated(*out.NextDue))
	}
}

func (s *Scheduler) emitRing(ctx context.Context, out recon.Outcome, rec store.Record, now time.Time) {
	ev := alert.AlarmDue(out.Reason)
	s.log.Info("ringing",
		logx.String("reason", string(out.Reason)),
		logx.Int("snooze_count", rec.SnoozeCount))
	s.bus.Publish(ev)
	if err := s.st.AppendRing(ctx, store.RingEntry{
		At:          now,
		EventID:     ev.ID,
		Reason:      string(out.Reason),
		SnoozeCount: rec.SnoozeCount,
	}); err != nil {
		s.log.Warn("ring log append failed", logx.Err(err))
	}
	if s.cb.OnRing != nil {
		s.cb.OnRing(out.Reason, rec.SnoozeCount, rec.SnoozeLimit)
	}
}

// syncLocked refreshes the local view from a committed record and re-arms.
// A disabled record never arms a due timer: nothing would consume it, and a
// zero-delay chain on a stale instant would spin.
func (s *Scheduler) syncLocked(rec store.Record) {
	if rec.Enabled {
		s.localNext = rec.NextDueAt
	} else {
		s.localNext = nil
	}
	s.pendingSnooze = rec.SnoozeUntil
	s.rearmLocked()
}

// rearmLocked arms the timer chain for the current local view. Long deltas
// are chunked: the sub-timer fires early, finds nothing due, and re-arms for
// the remainder.
func (s *Scheduler) rearmLocked() {
	s.disarmLocked()
	now := s.clk.Now()

	if su := s.pendingSnooze; su != nil {
		d := su.Sub(now)
		if d < 0 {
			d = 0
		}
		s.snoozeTimer = time.AfterFunc(minDuration(d, maxTimerChunk), s.timerFired)
	}
	if next := s.localNext; next != nil {
		d := next.Sub(now)
		if d < 0 {
			d = 0
		}
		s.dueTimer = time.AfterFunc(minDuration(d, maxTimerChunk), s.timerFired)
	}
}

// armRetryLocked schedules a single retry of the check cycle after a store
// failure. Unlike rearmLocked it never arms a zero-delay timer, even when the
// local deadline has already passed.
func (s *Scheduler) armRetryLocked() {
	s.disarmLocked()
	s.dueTimer = time.AfterFunc(storeRetryBackoff, s.timerFired)
}

func (s *Scheduler) disarmLocked() {
	if s.dueTimer != nil {
		s.dueTimer.Stop()
		s.dueTimer = nil
	}
	if s.snoozeTimer != nil {
		s.snoozeTimer.Stop()
		s.snoozeTimer = nil
	}
}

func (s *Scheduler) timerFired() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.noteZone(s.clk.Now())
	s.check(ctx)
}

// noteZone logs timezone changes. No correction is needed: every recompute
// is relative to "now" in the current zone, so the next cycle lands right.
func (s *Scheduler) noteZone(now time.Time) {
	name, _ := now.Zone()
	s.mu.Lock()
	prev := s.lastZone
	s.lastZone = name
	s.mu.Unlock()
	if prev != "" && prev != name {
		s.log.Info("timezone changed",
			logx.String("from", prev),
			logx.String("to", name))
	}
}

func (s *Scheduler) notifyNextDue(next *time.Time) {
	if s.cb.OnNextDueUpdate == nil {
		return
	}
	if next == nil {
		s.cb.OnNextDueUpdate(nil)
		return
	}
	t := *next
	s.cb.OnNextDueUpdate(&t)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
