package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linanwx/clawlink/bus"
	"github.com/linanwx/clawlink/protocol"
	"github.com/linanwx/clawlink/registry"
)

func TestFunctionCallAdvance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from CallStatus
		to   CallStatus
		ok   bool
	}{
		{"pending to executing", CallPending, CallExecuting, true},
		{"executing to success", CallExecuting, CallSuccess, true},
		{"executing to error", CallExecuting, CallError, true},
		{"pending to cancelled", CallPending, CallCancelled, true},
		{"executing to cancelled", CallExecuting, CallCancelled, true},
		{"executing to pending", CallExecuting, CallPending, false},
		{"executing to executing", CallExecuting, CallExecuting, false},
		{"success to error", CallSuccess, CallError, false},
		{"error to cancelled", CallError, CallCancelled, false},
		{"cancelled to success", CallCancelled, CallSuccess, false},
		{"success to executing", CallSuccess, CallExecuting, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &FunctionCall{ID: "c1", Status: tt.from}
			err := call.advance(tt.to)
			if tt.ok {
				if err != nil || call.Status != tt.to {
					t.Fatalf("advance(%s) = %v, status %s", tt.to, err, call.Status)
				}
				return
			}
			if !errors.Is(err, ErrStatusBackwards) {
				t.Fatalf("advance(%s) error = %v, want ErrStatusBackwards", tt.to, err)
			}
			if call.Status != tt.from {
				t.Fatalf("refused move changed status to %s", call.Status)
			}
		})
	}
}

func TestCloseCancelsRunningCall(t *testing.T) {
	t.Parallel()

	b := bus.NewBus(16)
	defer b.Close()
	var mu sync.Mutex
	var statuses []string
	b.Subscribe(bus.EventCallResult, func(_ context.Context, e *bus.Event) {
		var data bus.CallResultData
		if err := e.ParseData(&data); err == nil {
			mu.Lock()
			statuses = append(statuses, data.Status)
			mu.Unlock()
		}
	})

	fs := newFakeServer(t)
	h := newHarness(t, b)
	started := make(chan struct{})
	_ = h.reg.Register(&registry.Definition{
		ID: "wait",
		Executor: func(ctx context.Context, _ *protocol.Object) (protocol.Value, error) {
			close(started)
			<-ctx.Done()
			return protocol.Value{}, ctx.Err()
		},
	})

	if err := h.sess.Connect(fs.url()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, "connected", h.sess.Online)

	fs.out <- `{"type":"function_call","id":"c1","name":"wait","parameters":{}}`
	<-started

	calls := h.sess.Calls()
	if len(calls) != 1 || calls[0].ID != "c1" || calls[0].Status != CallExecuting {
		t.Fatalf("running calls = %+v", calls)
	}
	h.sess.mu.Lock()
	rec := h.sess.calls["c1"]
	h.sess.mu.Unlock()

	h.sess.Close()

	if rec.Status != CallCancelled {
		t.Fatalf("status after close = %s, want cancelled", rec.Status)
	}
	if rec.Error == "" {
		t.Fatalf("cancelled call has no error")
	}
	if len(h.sess.Calls()) != 0 {
		t.Fatalf("calls left after close: %+v", h.sess.Calls())
	}
	waitFor(t, "cancelled event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == "cancelled" {
				return true
			}
		}
		return false
	})
	mu.Lock()
	defer mu.Unlock()
	for _, s := range statuses {
		if s == string(protocol.StatusError) {
			t.Fatalf("cancelled call also reported error: %v", statuses)
		}
	}
}

func TestNoBackgroundWorkAfterClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sess.Close()

	if h.sess.spawn(func() { t.Errorf("ran after close") }) {
		t.Fatalf("spawn accepted work after close")
	}

	h.sess.handleMessage(protocol.FunctionCall("late", "create_task", protocol.NewObject()))
	if got := h.queue.Count(); got != 1 {
		t.Fatalf("call after close should be queued, pending = %d", got)
	}
}
