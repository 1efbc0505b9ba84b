// Package transport owns the websocket connection to the command server and
// its reconnection policy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/linanwx/clawlink/logger"
	"github.com/linanwx/clawlink/protocol"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultMaxBackoff     = 30 * time.Second
	readLimit             = 4 << 20
)

var (
	// ErrNotConnected is returned by Send when no connection is open. The
	// message is dropped.
	ErrNotConnected = errors.New("not connected")
	// ErrMaxReconnect is the terminal error once the reconnect budget is spent.
	ErrMaxReconnect = errors.New("Max reconnection attempts reached")
)

// Handler receives every decoded inbound message except ping. It runs on the
// read loop and should not block.
type Handler func(msg protocol.Message)

// TokenSource returns the bearer credential to attach on connect. An empty
// token means none.
type TokenSource func() (string, error)

// Timer is a cancellable one-shot delayed task.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Transport. State observers run while the transport
// holds its state lock and must not call Connect or Disconnect directly.
type Options struct {
	State          *StateHolder
	Handler        Handler
	Token          TokenSource
	ConnectTimeout time.Duration
	MaxAttempts    int
	MaxBackoff     time.Duration
	AfterFunc      AfterFunc
}

// Transport is a reconnecting websocket client.
type Transport struct {
	state          *StateHolder
	handler        Handler
	token          TokenSource
	connectTimeout time.Duration
	maxAttempts    int
	maxBackoff     time.Duration
	afterFunc      AfterFunc

	// stateMu pairs a generation check with the state write so a stale
	// goroutine cannot overwrite a newer transition.
	stateMu sync.Mutex

	mu       sync.Mutex
	url      string
	conn     *websocket.Conn
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	attempts int
	timer    Timer
}

// New creates a disconnected transport.
func New(opts Options) *Transport {
	t := &Transport{
		state:          opts.State,
		handler:        opts.Handler,
		token:          opts.Token,
		connectTimeout: opts.ConnectTimeout,
		maxAttempts:    opts.MaxAttempts,
		maxBackoff:     opts.MaxBackoff,
		afterFunc:      opts.AfterFunc,
	}
	if t.state == nil {
		t.state = NewStateHolder()
	}
	if t.connectTimeout <= 0 {
		t.connectTimeout = defaultConnectTimeout
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = defaultMaxAttempts
	}
	if t.maxBackoff <= 0 {
		t.maxBackoff = defaultMaxBackoff
	}
	if t.afterFunc == nil {
		t.afterFunc = realAfterFunc
	}
	return t
}

// State returns the holder the transport writes to.
func (t *Transport) State() *StateHolder { return t.state }

// SetHandler replaces the inbound message handler.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// URL returns the endpoint of the last Connect.
func (t *Transport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// Attempts returns the current reconnect attempt counter.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Connect tears down any existing connection, resets the attempt counter and
// starts dialing rawURL in the background. Progress is reported through the
// state holder.
func (t *Transport) Connect(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server url %q: scheme must be ws or wss", rawURL)
	}

	t.stateMu.Lock()
	t.mu.Lock()
	old, oldCancel := t.teardownLocked()
	t.url = rawURL
	t.attempts = 0
	t.ctx, t.cancel = context.WithCancel(context.Background())
	gen, ctx := t.gen, t.ctx
	t.mu.Unlock()
	t.state.Set(StateConnecting)
	t.stateMu.Unlock()

	closeConn(old, oldCancel)
	logger.Info("connecting", "url", rawURL)
	go t.dial(ctx, gen, rawURL)
	return nil
}

// Disconnect cancels any pending reconnect, closes the connection and sets
// the state to disconnected.
func (t *Transport) Disconnect() {
	t.stateMu.Lock()
	t.mu.Lock()
	old, oldCancel := t.teardownLocked()
	t.attempts = 0
	t.mu.Unlock()
	t.state.Set(StateDisconnected)
	t.stateMu.Unlock()

	closeConn(old, oldCancel)
	logger.Info("disconnected")
}

// Send encodes msg and writes it as one text frame. When not connected the
// message is dropped and ErrNotConnected returned.
func (t *Transport) Send(ctx context.Context, msg protocol.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.state.Get().Connected() {
		logger.Warn("send dropped, not connected", "type", msg.Type, "id", msg.ID)
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		logger.Warn("websocket write failed", "type", msg.Type, "err", err)
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// teardownLocked invalidates the current generation and detaches its
// connection. The caller closes the returned connection outside the lock.
func (t *Transport) teardownLocked() (*websocket.Conn, context.CancelFunc) {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	conn, cancel := t.conn, t.cancel
	t.conn = nil
	t.cancel = nil
	return conn, cancel
}

func closeConn(conn *websocket.Conn, cancel context.CancelFunc) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen
}

// setState writes s unless gen has been superseded.
func (t *Transport) setState(gen uint64, s State) bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if !t.current(gen) {
		return false
	}
	t.state.Set(s)
	return true
}

func (t *Transport) header() http.Header {
	h := http.Header{}
	if t.token == nil {
		return h
	}
	token, err := t.token()
	if err != nil {
		logger.Debug("no bearer token", "err", err)
		return h
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func (t *Transport) dial(ctx context.Context, gen uint64, rawURL string) {
	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	conn, _, err := websocket.Dial(dialCtx, rawURL, &websocket.DialOptions{HTTPHeader: t.header()})
	cancel()
	if err != nil {
		if !t.current(gen) {
			return
		}
		logger.Warn("websocket dial failed", "url", rawURL, "err", err)
		t.connectionLost(gen, err)
		return
	}
	conn.SetReadLimit(readLimit)

	t.stateMu.Lock()
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		t.stateMu.Unlock()
		conn.CloseNow()
		return
	}
	t.conn = conn
	t.attempts = 0
	t.mu.Unlock()
	t.state.Set(StateConnected)
	t.stateMu.Unlock()

	logger.Info("connected", "url", rawURL)
	t.readLoop(ctx, gen, conn)
}

func (t *Transport) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !t.current(gen) {
				return
			}
			logger.Warn("websocket read failed", "status", websocket.CloseStatus(err), "err", err)
			t.connectionLost(gen, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("dropping inbound frame", "err", err, "bytes", len(data))
			continue
		}
		if msg.Type == protocol.TypePing {
			if err := t.Send(ctx, protocol.Pong()); err != nil {
				logger.Warn("pong failed", "err", err)
			}
			continue
		}

		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

// connectionLost handles an unrequested loss of gen's connection: it moves
// the state to disconnected (remote close) or error, then schedules the next
// attempt or gives up once the budget is spent.
func (t *Transport) connectionLost(gen uint64, cause error) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	if t.conn != nil {
		t.conn.CloseNow()
		t.conn = nil
	}
	t.attempts++
	attempt := t.attempts
	t.mu.Unlock()

	if attempt > t.maxAttempts {
		logger.Error("giving up reconnecting", "attempts", attempt-1)
		t.setState(gen, ErrorState(ErrMaxReconnect.Error()))
		return
	}

	next := ErrorState(cause.Error())
	if websocket.CloseStatus(cause) != -1 {
		next = StateDisconnected
	}
	if !t.setState(gen, next) {
		return
	}

	delay := Backoff(attempt, t.maxBackoff)
	t.mu.Lock()
	if t.gen == gen {
		t.timer = t.afterFunc(delay, func() { t.redial(gen) })
	}
	t.mu.Unlock()
	logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// redial runs when a reconnect timer fires. It keeps the attempt counter.
func (t *Transport) redial(gen uint64) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	rawURL, ctx := t.url, t.ctx
	t.mu.Unlock()

	if !t.setState(gen, StateConnecting) {
		return
	}
	t.dial(ctx, gen, rawURL)
}
