package store

import (
	"context"
	"errors"
	"time"

	"alarmd/internal/schedule"
)

// ErrUnavailable wraps any failed store transaction. Callers keep their
// in-memory view and retry on the next natural write; no partial commit is
// ever visible.
var ErrUnavailable = errors.New("schedule store unavailable")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Record is the persisted schedule state. Nil pointers are SQL NULLs.
//
// NextDueAt / SnoozeUntil are the pending instants; LastConsumedDueAt /
// LastConsumedSnoozeUntil are the idempotency markers: the most recent values
// that already produced an alert. A context may only fire for a value that
// differs from its marker, and must set the marker in the same transaction.
type Record struct {
	Enabled     bool
	AlarmHour   *int
	AlarmMinute *int
	Recurrence  schedule.Recurrence
	AnchorDate  *time.Time

	NextDueAt   *time.Time
	SnoozeUntil *time.Time

	SnoozeCount int
	SnoozeLimit int

	LastConsumedDueAt       *time.Time
	LastConsumedSnoozeUntil *time.Time
}

// ScheduleConfig rebuilds the calculator input from the persisted fields.
// ok is false when no alarm time has been set yet.
func (r *Record) ScheduleConfig() (schedule.Config, bool) {
	if r.AlarmHour == nil || r.AlarmMinute == nil {
		return schedule.Config{}, false
	}
	cfg := schedule.Config{
		Hour:       *r.AlarmHour,
		Minute:     *r.AlarmMinute,
		Recurrence: r.Recurrence,
		Enabled:    r.Enabled,
	}
	if r.AnchorDate != nil {
		cfg.Anchor = *r.AnchorDate
	}
	return cfg, true
}

// SetSchedule installs a new user intent. Changing the alarm always clears
// the pending due/snooze state and the snooze budget, so a "ghost" alert can
// never fire for a schedule the user already replaced.
func (r *Record) SetSchedule(cfg schedule.Config) {
	h, m := cfg.Hour, cfg.Minute
	r.Enabled = cfg.Enabled
	r.AlarmHour = &h
	r.AlarmMinute = &m
	r.Recurrence = cfg.Recurrence
	if cfg.Anchor.IsZero() {
		r.AnchorDate = nil
	} else {
		a := cfg.Anchor
		r.AnchorDate = &a
	}
	r.ClearPending()
}

// ClearPending resets the mutable cycle state (not the user intent).
func (r *Record) ClearPending() {
	r.NextDueAt = nil
	r.SnoozeUntil = nil
	r.SnoozeCount = 0
}

// RingEntry records one fired alert.
type RingEntry struct {
	At          time.Time
	EventID     string
	Reason      string
	SnoozeCount int
}

// PushSubscription is one Web Push endpoint registration.
type PushSubscription struct {
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// Store is the persistence API shared by both contexts.
type Store interface {
	// Load returns the current record (zero record if never written).
	Load(ctx context.Context) (Record, error)
	// Update runs fn on the current record inside one transaction and
	// persists the result. fn returning an error aborts without writing.
	// The committed record is returned.
	Update(ctx context.Context, fn func(*Record) error) (Record, error)

	AppendRing(ctx context.Context, e RingEntry) error
	RecentRings(ctx context.Context, limit int) ([]RingEntry, error)

	Subscriptions(ctx context.Context) ([]PushSubscription, error)
	SaveSubscription(ctx context.Context, s PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error

	Close() error
}
