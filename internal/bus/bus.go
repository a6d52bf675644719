// Package bus is a small in-process publish/subscribe channel for
// keeper events. It is constructed by the composing application and
// injected into producers, so tests can assert on emitted events
// without any process-global state.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solcrank/perp-keeper/internal/model"
)

// Kind classifies an event.
type Kind string

const (
	KindCrankFailed   Kind = "crank_failed"
	KindCycleComplete Kind = "cycle_complete"
	KindMarketEvicted Kind = "market_evicted"
	KindStreamState   Kind = "stream_state"
)

// Event is one keeper occurrence. Err carries a truncated message for
// operator visibility only; consumers must never branch on its text.
type Event struct {
	ID     uuid.UUID
	Kind   Kind
	Market string
	Err    string
	State  string
	Cycle  *model.CycleResult
	At     time.Time
}

// MaxErrLen bounds the retained error text.
const MaxErrLen = 256

// Bus fans events out to subscribers. Publishing never blocks: a slow
// subscriber loses its oldest events, not the publisher's time.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer capacity and
// returns its channel plus a cancel function. The channel is closed on
// cancel or Bus close.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping the oldest
// queued event for any subscriber whose buffer is full. A zero ID and
// time are filled in.
func (b *Bus) Publish(e Event) {
	if e.ID == (uuid.UUID{}) {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if len(e.Err) > MaxErrLen {
		e.Err = e.Err[:MaxErrLen]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
				ch <- e
			default:
			}
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
