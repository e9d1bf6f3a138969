package notifier

import (
	"context"
	"fmt"

	"alarmd/internal/alert"
)

// Action is one tappable button on a platform alert.
type Action struct {
	ID    string `json:"action"`
	Title string `json:"title"`
}

// Alert is the user-visible notification pushed when an alarm fires and no
// foreground surface is reachable. Vibration is a pattern of alternating
// on/off millisecond durations.
type Alert struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Tag       string   `json:"tag,omitempty"`
	Actions   []Action `json:"actions,omitempty"`
	Vibration []int    `json:"vibrate,omitempty"`
}

// Channel delivers an Alert over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// ringVibration is deliberately insistent; a wake-up alarm, not a chat ping.
var ringVibration = []int{500, 200, 500, 200, 500}

// AlarmAlert builds the standard ring notification for a due alarm or an
// expired snooze. The two actions are fixed: "open" surfaces the ring UI,
// "snooze" requests another snooze (which the engine may reject at the limit).
func AlarmAlert(reason alert.Reason, snoozeCount, snoozeLimit int) Alert {
	a := Alert{
		Title: "Wake up!",
		Body:  "Your alarm is ringing.",
		Tag:   "alarmd-ring",
		Actions: []Action{
			{ID: "open", Title: "Open"},
			{ID: "snooze", Title: "Snooze"},
		},
		Vibration: ringVibration,
	}
	if reason == alert.ReasonSnoozeExpired {
		a.Body = fmt.Sprintf("Snooze is over (%d/%d used).", snoozeCount, snoozeLimit)
	}
	if snoozeCount >= snoozeLimit {
		// No snoozes left: don't offer the button.
		a.Actions = a.Actions[:1]
		a.Body += " No snoozes left."
	}
	return a
}

// LimitAlert is pushed when a snooze request was rejected; the ring state is
// forced rather than quietly re-sleeping.
func LimitAlert(snoozeLimit int) Alert {
	return Alert{
		Title:     "Snooze limit reached",
		Body:      fmt.Sprintf("You have used all %d snoozes. Time to get up.", snoozeLimit),
		Tag:       "alarmd-ring",
		Actions:   []Action{{ID: "open", Title: "Open"}},
		Vibration: ringVibration,
	}
}
