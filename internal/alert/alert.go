// Package alert defines the ephemeral events exchanged between the foreground
// scheduler, the background monitor, and the UI layer.
//
// Events are message-passed and never persisted. Delivery is best-effort and
// unordered: a consumer must tolerate an event arriving late, never, or twice.
// Firing-once guarantees live in the store's consumed markers, not here.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags the event variant.
type Kind string

const (
	// KindAlarmDue means an alarm or snooze is due right now.
	KindAlarmDue Kind = "alarm_due"
	// KindSnoozeRequested carries a user snooze request (minutes in Minutes).
	KindSnoozeRequested Kind = "snooze_requested"
	// KindSnoozeLimitReached means a snooze request was rejected; the ring
	// state must be forced, there is no quiet path.
	KindSnoozeLimitReached Kind = "snooze_limit_reached"
	// KindNextAlarmRecalculated announces a new next-due instant (At).
	KindNextAlarmRecalculated Kind = "next_alarm_recalculated"
)

// Reason qualifies KindAlarmDue.
type Reason string

const (
	ReasonAlarmTime     Reason = "alarm_time"
	ReasonSnoozeExpired Reason = "snooze_expired"
)

// Event is the tagged variant. Only the fields relevant to Kind are set.
type Event struct {
	ID      string
	Kind    Kind
	Reason  Reason    // KindAlarmDue
	At      time.Time // KindNextAlarmRecalculated: the new due instant
	Minutes int       // KindSnoozeRequested
	Emitted time.Time
}

func AlarmDue(reason Reason) Event {
	return Event{ID: uuid.NewString(), Kind: KindAlarmDue, Reason: reason}
}

func SnoozeRequested(minutes int) Event {
	return Event{ID: uuid.NewString(), Kind: KindSnoozeRequested, Minutes: minutes}
}

func SnoozeLimitReached() Event {
	return Event{ID: uuid.NewString(), Kind: KindSnoozeLimitReached}
}

func NextAlarmRecalculated(at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: KindNextAlarmRecalculated, At: at}
}
