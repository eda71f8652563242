package monitor

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(4, quietLogger())
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(Event{Type: EventPositionAdded, TradeID: "trade-1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.TradeID != "trade-1" {
				t.Errorf("subscriber %d got trade %s", i, ev.TradeID)
			}
			if ev.Timestamp.IsZero() {
				t.Errorf("subscriber %d got zero timestamp", i)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

// A slow subscriber sheds its oldest events: the buffer always holds the
// newest ones and the publisher never blocks.
func TestBusDropsOldestWhenFull(t *testing.T) {
	bus := NewBus(2, quietLogger())
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventPositionExited, TradeID: fmt.Sprintf("trade-%d", i)})
	}

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).TradeID)
	}
	if len(got) != 2 {
		t.Fatalf("buffered %d events, want 2", len(got))
	}
	if got[0] != "trade-3" || got[1] != "trade-4" {
		t.Errorf("kept %v, want the newest [trade-3 trade-4]", got)
	}
	if bus.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", bus.Dropped())
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus(4, quietLogger())
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Event{Type: EventPositionAdded, TradeID: "trade-1"})
}

func TestBusClose(t *testing.T) {
	bus := NewBus(4, quietLogger())

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Close()
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Close")
	}

	bus.Publish(Event{Type: EventPositionAdded}) // no-op
	postCh, _ := bus.Subscribe()
	if _, open := <-postCh; open {
		t.Fatal("subscribing to a closed bus should return a closed channel")
	}
}
