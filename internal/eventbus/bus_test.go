package eventbus

import (
	"testing"
	"time"

	"alarmd/internal/alert"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(alert.AlarmDue(alert.ReasonAlarmTime))

	select {
	case e := <-ch:
		if e.Kind != alert.KindAlarmDue || e.Reason != alert.ReasonAlarmTime {
			t.Fatalf("unexpected event: %+v", e)
		}
		if e.Emitted.IsZero() {
			t.Fatal("Emitted not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Fill the buffer, then publish more; Publish must never block.
	for i := 0; i < 5; i++ {
		b.Publish(alert.SnoozeLimitReached())
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(alert.SnoozeRequested(5))
}
