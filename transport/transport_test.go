package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/linanwx/clawlink/protocol"
)

type scheduled struct {
	delay time.Duration
	fire  func()
}

type fakeTimers struct {
	ch chan scheduled
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{ch: make(chan scheduled, 16)}
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.ch <- scheduled{delay: d, fire: fn}
	return stopper{}
}

type stopper struct{}

func (stopper) Stop() bool { return true }

func (f *fakeTimers) next(t *testing.T) scheduled {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reconnect to be scheduled")
	}
	return scheduled{}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitState(t *testing.T, h *StateHolder, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", h.Get(), want)
}

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) handle(msg protocol.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, 30*time.Second); got != tt.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectBudget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	timers := newFakeTimers()
	tr := New(Options{AfterFunc: timers.AfterFunc, ConnectTimeout: 2 * time.Second})
	t.Cleanup(tr.Disconnect)

	if err := tr.Connect(wsURL(srv)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, d := range want {
		s := timers.next(t)
		if s.delay != d {
			t.Fatalf("attempt %d delay = %v, want %v", i+1, s.delay, d)
		}
		if tr.State().Get().Kind != KindError {
			t.Fatalf("expected error state while waiting, got %v", tr.State().Get())
		}
		go s.fire()
	}

	waitState(t, tr.State(), ErrorState("Max reconnection attempts reached"))
	select {
	case s := <-timers.ch:
		t.Fatalf("unexpected 6th attempt scheduled after %v", s.delay)
	case <-time.After(100 * time.Millisecond):
	}

	// An explicit connect starts a fresh budget.
	if err := tr.Connect(wsURL(srv)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if s := timers.next(t); s.delay != 2*time.Second {
		t.Fatalf("delay after reconnect = %v, want 2s", s.delay)
	}
}

func TestPingPongAndUnknownFrames(t *testing.T) {
	t.Parallel()

	serverErr := make(chan error, 1)
	done := make(chan struct{})
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			serverErr <- err
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		pingPong := func() error {
			if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				return err
			}
			_, data, err := c.Read(ctx)
			if err != nil {
				return err
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				return err
			}
			if msg.Type != protocol.TypePong {
				return errors.New("expected pong, got " + string(msg.Type))
			}
			return nil
		}

		if err := pingPong(); err != nil {
			serverErr <- err
			return
		}
		for _, frame := range []string{`{"type":"subscribe","topic":"x"}`, `not json`} {
			if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				serverErr <- err
				return
			}
		}
		if err := pingPong(); err != nil {
			serverErr <- err
			return
		}
		if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"function_call","id":"1","name":"create_task","parameters":{"title":"x"}}`)); err != nil {
			serverErr <- err
			return
		}
		serverErr <- nil
		<-done
	}))
	t.Cleanup(srv.Close)

	rec := &recorder{}
	timers := newFakeTimers()
	tr := New(Options{
		Handler:   rec.handle,
		Token:     func() (string, error) { return "secret-token", nil },
		AfterFunc: timers.AfterFunc,
	})
	t.Cleanup(func() {
		close(done)
		tr.Disconnect()
	})

	if err := tr.Connect(wsURL(srv)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for server script")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := rec.all()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeFunctionCall || msgs[0].ID != "1" {
		t.Fatalf("handler should only see the function call, got %+v", msgs)
	}
	if got := tr.State().Get(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	if tr.Attempts() != 0 {
		t.Fatalf("attempts = %d, want 0", tr.Attempts())
	}
	if auth != "Bearer secret-token" {
		t.Fatalf("authorization header = %q", auth)
	}
	select {
	case s := <-timers.ch:
		t.Fatalf("unexpected reconnect scheduled after %v", s.delay)
	default:
	}
}

func TestRemoteCloseSchedulesReconnect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "restarting")
	}))
	t.Cleanup(srv.Close)

	timers := newFakeTimers()
	tr := New(Options{AfterFunc: timers.AfterFunc})
	t.Cleanup(tr.Disconnect)

	var mu sync.Mutex
	var seen []State
	tr.State().Observe(func(_, next State) {
		mu.Lock()
		seen = append(seen, next)
		mu.Unlock()
	})

	if err := tr.Connect(wsURL(srv)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if s := timers.next(t); s.delay != 2*time.Second {
		t.Fatalf("delay = %v, want 2s", s.delay)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	t.Parallel()

	tr := New(Options{})
	err := tr.Send(context.Background(), protocol.Ping())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectRejectsNonWebsocketURL(t *testing.T) {
	t.Parallel()

	tr := New(Options{})
	if err := tr.Connect("http://example.com"); err == nil {
		t.Fatalf("expected error for http scheme")
	}
	if got := tr.State().Get(); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
}

func TestStateHolderOrderedObservers(t *testing.T) {
	t.Parallel()

	h := NewStateHolder()
	var order []string
	cancelA := h.Observe(func(prev, next State) { order = append(order, "a:"+next.String()) })
	h.Observe(func(prev, next State) { order = append(order, "b:"+next.String()) })

	h.Set(StateConnecting)
	h.Set(StateConnecting)
	cancelA()
	h.Set(ErrorState("boom"))

	want := []string{"a:connecting", "b:connecting", "b:error: boom"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}
}
