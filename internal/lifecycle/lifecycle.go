// Package lifecycle models the alarm cycle as an explicit state machine:
//
//	Idle → Scheduled → Ringing → Snoozed → Ringing … → Dismissed → Scheduled
//
// Both contexts derive their view of this machine from the shared store; the
// machine itself is pure and holds no I/O. Forbidden transitions (snoozing
// past the limit, dismissing without ringing) return errors instead of
// silently succeeding.
package lifecycle

import (
	"errors"
	"fmt"
)

type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRinging   State = "ringing"
	StateSnoozed   State = "snoozed"
	StateDismissed State = "dismissed"
)

var (
	ErrSnoozeLimit   = errors.New("snooze limit reached")
	ErrBadTransition = errors.New("invalid lifecycle transition")
)

// Machine tracks the cycle state and the snooze budget.
type Machine struct {
	state       State
	snoozeCount int
	snoozeLimit int
}

func New(snoozeLimit int) *Machine {
	if snoozeLimit < 0 {
		snoozeLimit = 0
	}
	return &Machine{state: StateIdle, snoozeLimit: snoozeLimit}
}

// Restore rebuilds a machine from persisted fields. Used after either context
// restarts: the store is the source of truth, the machine is derived.
func Restore(state State, snoozeCount, snoozeLimit int) *Machine {
	m := New(snoozeLimit)
	m.state = state
	m.snoozeCount = snoozeCount
	return m
}

func (m *Machine) State() State     { return m.state }
func (m *Machine) SnoozeCount() int { return m.snoozeCount }
func (m *Machine) SnoozeLimit() int { return m.snoozeLimit }

// Schedule arms a new cycle. Valid from Idle and Dismissed; also from
// Scheduled (re-arming with a new due instant is a no-op transition).
func (m *Machine) Schedule() error {
	switch m.state {
	case StateIdle, StateDismissed, StateScheduled:
		m.state = StateScheduled
		return nil
	}
	return fmt.Errorf("%w: schedule from %s", ErrBadTransition, m.state)
}

// Due fires the alarm: Scheduled → Ringing, or Snoozed → Ringing when the
// snooze window elapsed. The snooze count is preserved on the snoozed path so
// letting snoozes lapse cannot bypass the limit.
func (m *Machine) Due() error {
	switch m.state {
	case StateScheduled, StateSnoozed:
		m.state = StateRinging
		return nil
	}
	return fmt.Errorf("%w: due from %s", ErrBadTransition, m.state)
}

// Snooze requests a snooze while ringing. At the limit the request is
// rejected and the machine stays Ringing: the user must complete dismissal.
func (m *Machine) Snooze() error {
	if m.state != StateRinging {
		return fmt.Errorf("%w: snooze from %s", ErrBadTransition, m.state)
	}
	if m.snoozeCount >= m.snoozeLimit {
		return ErrSnoozeLimit
	}
	m.snoozeCount++
	m.state = StateSnoozed
	return nil
}

// Dismiss completes the cycle and resets the snooze budget for the next one.
// Only reachable from Ringing: a bare "notification dismissed" action never
// gets here, the ring surface has to be completed first.
func (m *Machine) Dismiss() error {
	if m.state != StateRinging {
		return fmt.Errorf("%w: dismiss from %s", ErrBadTransition, m.state)
	}
	m.state = StateDismissed
	m.snoozeCount = 0
	return nil
}

// Disable tears the cycle down entirely.
func (m *Machine) Disable() {
	m.state = StateIdle
	m.snoozeCount = 0
}
