package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"alarmd/internal/alert"
)

// Bus fans alert events out to subscribers.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Dropping is acceptable here: correctness never depends on delivery, only on
// the shared store's consumed markers.
type Bus interface {
	Publish(e alert.Event)
	Subscribe(buffer int) (ch <-chan alert.Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan alert.Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan alert.Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e alert.Event) {
	if e.Emitted.IsZero() {
		e.Emitted = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan alert.Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan alert.Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan alert.Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
