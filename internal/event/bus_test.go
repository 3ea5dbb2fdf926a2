package event

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe("turn.started", func(e Event) { got = e })

	ev := NewTurnStartedEvent(2, 0, 5, "fix the parser")
	bus.Publish(ev)

	if got == nil {
		t.Fatal("handler was not called")
	}
	ts, ok := got.(TurnStartedEvent)
	if !ok {
		t.Fatalf("event type = %T, want TurnStartedEvent", got)
	}
	if ts.Depth != 2 {
		t.Errorf("Depth = %d, want 2", ts.Depth)
	}
	if ts.EventType() != "turn.started" {
		t.Errorf("EventType() = %q, want %q", ts.EventType(), "turn.started")
	}
}

func TestPublishOrderSpecificThenWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe("tool.completed", func(Event) { order = append(order, "specific") })
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })

	bus.Publish(NewToolCompletedEvent("tc-1", "read_file", true, false, time.Millisecond))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("call order = %v, want [specific wildcard]", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("council.vote", func(Event) { called = true })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for live subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true for removed subscription")
	}

	bus.Publish(NewVoteRegisteredEvent("strategist", "EXECUTE", 1.0, "default"))
	if called {
		t.Error("handler called after unsubscribe")
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("stream.spawned", func(Event) { panic("boom") })

	delivered := false
	bus.Subscribe("stream.spawned", func(Event) { delivered = true })

	bus.Publish(NewStreamSpawnedEvent("st-1", "reviewer", "quality_review", "live", 2000))

	if !delivered {
		t.Error("second handler not called after first panicked")
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewReasoningTextEvent("chunk"))
		}()
	}
	wg.Wait()

	if count != 10 {
		t.Errorf("handler calls = %d, want 10", count)
	}
}

func TestClearAndSubscriptionCount(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("a", func(Event) {})
	bus.Subscribe("b", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if n := bus.SubscriptionCount(); n != 3 {
		t.Errorf("SubscriptionCount() = %d, want 3", n)
	}

	bus.Clear()
	if n := bus.SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount() after Clear = %d, want 0", n)
	}
}
