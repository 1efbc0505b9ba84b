package bus

import (
	"context"
	"sync"
	"testing"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	b := NewBus(16)
	var mu sync.Mutex
	var got []int
	b.Subscribe(EventQueueCount, func(_ context.Context, e *Event) {
		var data QueueCountData
		if err := e.ParseData(&data); err != nil {
			t.Errorf("parse failed: %v", err)
			return
		}
		mu.Lock()
		got = append(got, data.Pending)
		mu.Unlock()
	})
	b.Subscribe(EventConnectionState, func(context.Context, *Event) {
		t.Errorf("connection handler should not see queue events")
	})

	for i := 1; i <= 5; i++ {
		b.Emit(EventQueueCount, "queue", QueueCountData{Pending: i})
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %v", got)
	}
	for i, n := range got {
		if n != i+1 {
			t.Fatalf("events out of order: %v", got)
		}
	}
}

func TestUnsubscribeAndPanicRecovery(t *testing.T) {
	t.Parallel()

	b := NewBus(4)
	var calls int
	var mu sync.Mutex
	id := b.Subscribe(EventCallResult, func(context.Context, *Event) {
		panic("boom")
	})
	b.Subscribe(EventCallResult, func(context.Context, *Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.Emit(EventCallResult, "session", CallResultData{CallID: "1", Status: "success"})
	b.Unsubscribe(id)
	b.Unsubscribe("sub-unknown")
	b.Emit(EventCallResult, "session", CallResultData{CallID: "2", Status: "success"})
	b.Close()
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected surviving handler called twice, got %d", calls)
	}
}
