package eventbus

import "testing"

func TestBusPublishSubscribe(t *testing.T) {
	bus := New[string]()
	ch := bus.Subscribe()
	if !bus.Publish("hello") {
		t.Fatalf("publish reported a drop")
	}
	v := <-ch
	if v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	bus.Unsubscribe(ch)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := New[int]()
	_ = bus.SubscribeBuffered(1)
	bus.Publish(1)
	if bus.Publish(2) {
		t.Fatalf("expected second publish to drop")
	}
	if bus.Dropped() != 1 {
		t.Fatalf("dropped = %d", bus.Dropped())
	}
}

func TestBusClose(t *testing.T) {
	bus := New[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	if bus.Publish(3) {
		t.Fatalf("publish after close")
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New[float64]()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
