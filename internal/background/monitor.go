// Package background is the platform-managed execution context: a periodic
// poller that re-derives "is anything due" from the shared store alone. It
// assumes the foreground may not exist, may have died mid-cycle, or may race
// it on the very same due instant; the store's consumed markers resolve all
// three.
package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"alarmd/internal/alert"
	"alarmd/internal/eventbus"
	"alarmd/internal/lifecycle"
	"alarmd/internal/notifier"
	"alarmd/internal/recon"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

type Config struct {
	// PollInterval is the check cadence while something is pending.
	PollInterval time.Duration
	// SnoozeDefault is the snooze length used for alert-action snoozes.
	SnoozeDefault time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.SnoozeDefault <= 0 {
		c.SnoozeDefault = 5 * time.Minute
	}
	return c
}

// RingSurface is the foreground context's ring intake. When it is up, a ring
// this context consumed is handed over so the user still sees it; when it is
// not, the monitor must raise the platform alert itself.
type RingSurface interface {
	Up() bool
	TakeRing(reason alert.Reason, snoozeCount, snoozeLimit int)
}

type Monitor struct {
	cfg   Config
	st    store.Store
	bus   eventbus.Bus
	notif *notifier.Service
	clk   clock.Clock
	log   logx.Logger
	fg    RingSurface

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	started bool
}

func New(cfg Config, st store.Store, bus eventbus.Bus, notif *notifier.Service, clk clock.Clock, fg RingSurface, log logx.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		cfg:   cfg.withDefaults(),
		st:    st,
		bus:   bus,
		notif: notif,
		clk:   clk,
		log:   log,
		fg:    fg,
	}
}

// Start runs the poll loop until ctx is canceled. The cron entry is added
// and removed as the schedule comes and goes: an idle alarm costs nothing.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.c = cron.New()
	m.c.Start()
	m.mu.Unlock()

	// One immediate pass: a due instant may have been missed while this
	// context was dead, and Refresh decides whether polling is needed at all.
	m.Check(ctx)
	m.Refresh(ctx)

	<-ctx.Done()

	m.mu.Lock()
	c := m.c
	m.c = nil
	m.entry = 0
	m.started = false
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	return nil
}

// Refresh re-reads the store and starts or stops the poll entry accordingly.
// Call it whenever the schedule may have changed.
func (m *Monitor) Refresh(ctx context.Context) {
	rec, err := m.st.Load(ctx)
	if err != nil {
		m.log.Warn("monitor refresh: store read failed", logx.Err(err))
		// Keep polling; the store may come back.
		m.ensurePolling(true)
		return
	}
	pending := rec.SnoozeUntil != nil || (rec.Enabled && rec.NextDueAt != nil)
	m.ensurePolling(pending)
}

func (m *Monitor) ensurePolling(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return
	}
	switch {
	case active && m.entry == 0:
		id, err := m.c.AddFunc("@every "+m.cfg.PollInterval.String(), func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PollInterval)
			defer cancel()
			m.Check(ctx)
		})
		if err != nil {
			m.log.Error("monitor: poll entry rejected", logx.Err(err))
			return
		}
		m.entry = id
		m.log.Debug("monitor polling started", logx.Duration("every", m.cfg.PollInterval))
	case !active && m.entry != 0:
		m.c.Remove(m.entry)
		m.entry = 0
		m.log.Debug("monitor polling stopped")
	}
}

// Check runs one poll cycle: evaluate the shared record at the current
// instant, persist whatever was consumed, then do the emissions.
func (m *Monitor) Check(ctx context.Context) {
	now := m.clk.Now()

	var out recon.Outcome
	rec, err := m.st.Update(ctx, func(r *store.Record) error {
		out = recon.Evaluate(r, now)
		return nil
	})
	if err != nil {
		// Nothing was committed; the next poll carries the full state forward.
		m.log.Warn("monitor check: store update failed", logx.Err(err))
		return
	}

	if out.Fired {
		m.emitFired(ctx, out, rec, now)
	}
	m.Refresh(ctx)
}

func (m *Monitor) emitFired(ctx context.Context, out recon.Outcome, rec store.Record, now time.Time) {
	ev := alert.AlarmDue(out.Reason)
	m.log.Info("alarm due",
		logx.String("reason", string(out.Reason)),
		logx.Int("snooze_count", rec.SnoozeCount))
	m.bus.Publish(ev)

	if err := m.st.AppendRing(ctx, store.RingEntry{
		At:          now,
		EventID:     ev.ID,
		Reason:      string(out.Reason),
		SnoozeCount: rec.SnoozeCount,
	}); err != nil {
		m.log.Warn("ring log append failed", logx.Err(err))
	}

	if out.Recalculated {
		if out.NextDue != nil {
			m.bus.Publish(alert.NextAlarmRecalculated(*out.NextDue))
		}
	}

	// The markers guarantee this context consumed the value, so it owns
	// surfacing the ring: hand it to the foreground when one is up, raise
	// the platform alert otherwise. Either way the user sees exactly one.
	if m.fg != nil && m.fg.Up() {
		m.fg.TakeRing(out.Reason, rec.SnoozeCount, rec.SnoozeLimit)
		return
	}
	a := notifier.AlarmAlert(out.Reason, rec.SnoozeCount, rec.SnoozeLimit)
	if err := m.notif.Alert(ctx, a); err != nil {
		m.log.Warn("platform alert failed", logx.Err(err))
	}
}

// RequestSnooze applies a snooze request against the shared budget. At the
// limit it mutates nothing, emits SnoozeLimitReached, and forces a full
// alert: there is no quiet path past the limit.
func (m *Monitor) RequestSnooze(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		minutes = int(m.cfg.SnoozeDefault / time.Minute)
	}
	now := m.clk.Now()

	var limit int
	rec, err := m.st.Update(ctx, func(r *store.Record) error {
		limit = r.SnoozeLimit
		if r.SnoozeCount >= r.SnoozeLimit {
			return lifecycle.ErrSnoozeLimit
		}
		until := now.Add(time.Duration(minutes) * time.Minute)
		r.SnoozeUntil = &until
		r.SnoozeCount++
		// A fresh window must be allowed to fire even if an identical value
		// fired before.
		r.LastConsumedSnoozeUntil = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrSnoozeLimit) {
			m.log.Info("snooze rejected: limit reached")
			m.bus.Publish(alert.SnoozeLimitReached())
			if aerr := m.notif.Alert(ctx, notifier.LimitAlert(limit)); aerr != nil {
				m.log.Warn("limit alert failed", logx.Err(aerr))
			}
		}
		return err
	}

	m.log.Info("snoozed",
		logx.Int("minutes", minutes),
		logx.Int("count", rec.SnoozeCount),
		logx.Int("limit", rec.SnoozeLimit))
	m.bus.Publish(alert.SnoozeRequested(minutes))
	m.Refresh(ctx)
	return nil
}
