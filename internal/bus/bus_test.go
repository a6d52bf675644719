package bus

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(10)
	defer cancel()

	b.Publish(Event{Kind: KindCrankFailed, Market: "MarketA", Err: "timeout"})

	select {
	case e := <-ch:
		if e.Kind != KindCrankFailed {
			t.Errorf("Kind = %q", e.Kind)
		}
		if e.Market != "MarketA" {
			t.Errorf("Market = %q", e.Market)
		}
		if e.ID == uuid.Nil {
			t.Error("ID should be filled in")
		}
		if e.At.IsZero() {
			t.Error("At should be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublish_FanOut(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(1)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(1)
	defer cancel2()

	b.Publish(Event{Kind: KindCycleComplete})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestPublish_DropOldestWhenFull(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(2)
	defer cancel()

	b.Publish(Event{Market: "1"})
	b.Publish(Event{Market: "2"})
	b.Publish(Event{Market: "3"}) // Drops "1"

	got := []string{(<-ch).Market, (<-ch).Market}
	if got[0] != "2" || got[1] != "3" {
		t.Errorf("got %v, want [2 3]", got)
	}
}

func TestPublish_TruncatesError(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Err: strings.Repeat("x", MaxErrLen*2)})

	e := <-ch
	if len(e.Err) != MaxErrLen {
		t.Errorf("len(Err) = %d, want %d", len(e.Err), MaxErrLen)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	cancel()

	// Channel is closed; publish after cancel must not panic.
	b.Publish(Event{Kind: KindStreamState})

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Double cancel is safe.
	cancel()
}

func TestClose_Idempotent(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(1)

	b.Close()
	b.Close()
	b.Publish(Event{}) // No-op after close

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
}
