package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/storyloop/internal/logging"
)

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeLoopPaused, func(e Event) {
		received = e
	})

	pos := Position{Epic: 2, Story: "2.3", Phase: "REVIEW"}
	bus.Publish(NewLoopPausedEvent(pos, "a-1", "repetition", "/tmp/a.md"))

	paused, ok := received.(LoopPausedEvent)
	if !ok {
		t.Fatalf("received %T, want LoopPausedEvent", received)
	}
	if paused.Story != "2.3" || paused.AnomalyType != "repetition" {
		t.Errorf("unexpected event payload: %+v", paused)
	}
	if paused.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_NoMatchingHandlers(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("other.event", func(e Event) {
		t.Error("handler should not be called for non-matching event type")
	})
	bus.Publish(newBaseEvent("test.event"))
}

func TestBus_SpecificBeforeWildcard(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeStoryCompleted, func(e Event) { order = append(order, "specific") })

	bus.Publish(NewStoryCompletedEvent(1, "1.1"))

	if strings.Join(order, ",") != "specific,wildcard" {
		t.Errorf("dispatch order = %v, want specific then wildcard", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := map[string]int{}
	id1 := bus.Subscribe("test.event", func(e Event) { calls["one"]++ })
	bus.Subscribe("test.event", func(e Event) { calls["two"]++ })

	if !bus.Unsubscribe(id1) {
		t.Fatal("Unsubscribe should return true for an existing subscription")
	}
	if bus.Unsubscribe(id1) {
		t.Error("second Unsubscribe should return false")
	}

	bus.Publish(newBaseEvent("test.event"))

	if calls["one"] != 0 || calls["two"] != 1 {
		t.Errorf("calls = %v, want only the remaining handler", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, logging.LevelError))

	calls := 0
	bus.Subscribe("test.event", func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe("test.event", func(e Event) {
		calls++
	})

	bus.Publish(newBaseEvent("test.event"))

	if calls != 2 {
		t.Errorf("expected both handlers to be called despite panic, got %d calls", calls)
	}
	if !strings.Contains(buf.String(), "handler panic") {
		t.Errorf("panic was not logged: %q", buf.String())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(TypeValidatorSettled, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(NewValidatorSettledEvent(Position{}, "codex", "gpt-5", "success", "", ""))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("expected 100 calls, got %d", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe("test.event", func(e Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("expected 0 subscriptions after concurrent add/remove, got %d", bus.SubscriptionCount())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe("test.event", func(e Event) {})
		if ids[id] {
			t.Errorf("duplicate subscription ID: %s", id)
		}
		ids[id] = true
	}
}
