package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Recurrence selects which calendar days are alarm days.
type Recurrence string

const (
	RecurrenceDaily         Recurrence = "daily"
	RecurrenceEveryOtherDay Recurrence = "every-other-day"
)

var ErrConfig = errors.New("invalid schedule config")

// Config is the user's alarm intent. Hour/Minute are local wall-clock values.
// Anchor is only meaningful for every-other-day; it is the parity "day 0".
type Config struct {
	Hour       int
	Minute     int
	Recurrence Recurrence
	Anchor     time.Time
	Enabled    bool
}

func (c Config) Validate() error {
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range", ErrConfig, c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range", ErrConfig, c.Minute)
	}
	switch c.Recurrence {
	case RecurrenceDaily:
	case RecurrenceEveryOtherDay:
		if c.Anchor.IsZero() {
			return fmt.Errorf("%w: every-other-day requires an anchor date", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown recurrence %q", ErrConfig, c.Recurrence)
	}
	return nil
}

// NextDue returns the next due instant strictly derived from cfg and from.
// The second return is false when the config is disabled or invalid.
//
// The result is always > from apart from the degenerate case where the
// candidate lands exactly on from, which counts as already passed.
func NextDue(cfg Config, from time.Time) (time.Time, bool) {
	if !cfg.Enabled || cfg.Validate() != nil {
		return time.Time{}, false
	}

	loc := from.Location()
	y, m, d := from.Date()
	candidate := time.Date(y, m, d, cfg.Hour, cfg.Minute, 0, 0, loc)

	// Today's slot already passed: move to the next calendar day.
	// AddDate (not Add(24h)) so the wall-clock time survives DST days.
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	if cfg.Recurrence == RecurrenceEveryOtherDay {
		anchor := midnightOf(cfg.Anchor)
		for mod(calendarDayDiff(candidate, anchor), 2) != 0 {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}

	return candidate, true
}

// IsWorkDay reports whether date is an alarm day under cfg, using the same
// parity rule as NextDue but without the "must be in the future" step.
// Used by calendar previews.
func IsWorkDay(cfg Config, date time.Time) bool {
	if cfg.Validate() != nil {
		return false
	}
	if cfg.Recurrence == RecurrenceDaily {
		return true
	}
	return mod(calendarDayDiff(date, midnightOf(cfg.Anchor)), 2) == 0
}

// calendarDayDiff counts whole calendar days between a and b.
// Both dates are projected to UTC midnight first so the count is immune to
// 23h/25h DST days. The result is negative when a precedes b.
func calendarDayDiff(a, b time.Time) int {
	ua := utcMidnight(a)
	ub := utcMidnight(b)
	return int(ua.Sub(ub) / (24 * time.Hour))
}

func utcMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func midnightOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// mod is the mathematical modulo: the result is always in [0, n) for n > 0.
// Go's % operator truncates toward zero, which would classify a date before
// the anchor as the wrong parity.
func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
