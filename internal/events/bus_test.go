package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan RapidFailExceededEvent, 1)

	unsub := bus.Subscribe(func(e RapidFailExceededEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(RapidFailExceededEvent{App: "api", Limit: 10})

	select {
	case got := <-received:
		if got.App != "api" || got.Limit != 10 {
			t.Errorf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := New()
	received1 := make(chan WorkerStartedEvent, 1)
	received2 := make(chan WorkerStartedEvent, 1)

	unsub1 := bus.Subscribe(func(e WorkerStartedEvent) { received1 <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e WorkerStartedEvent) { received2 <- e })
	defer unsub2()

	bus.Publish(WorkerStartedEvent{App: "api", Port: 9100, Slot: 1})

	for i, ch := range []chan WorkerStartedEvent{received1, received2} {
		select {
		case got := <-ch:
			if got.Port != 9100 {
				t.Errorf("subscriber %d: unexpected event %+v", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New()
	received := make(chan WorkerStoppedEvent, 1)

	unsub := bus.Subscribe(func(e WorkerStoppedEvent) { received <- e })
	unsub()

	bus.Publish(WorkerStoppedEvent{App: "api", Port: 9100})

	select {
	case <-received:
		t.Error("received event after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBusUnknownHandlerIsNoop(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(s string) {})
	unsub()
}
