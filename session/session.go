// Package session composes the transport, function registry and offline
// queue into one client session against the command server.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linanwx/clawlink/bus"
	"github.com/linanwx/clawlink/inference"
	"github.com/linanwx/clawlink/logger"
	"github.com/linanwx/clawlink/protocol"
	"github.com/linanwx/clawlink/queue"
	"github.com/linanwx/clawlink/registry"
	"github.com/linanwx/clawlink/transport"
)

const (
	sendTimeout      = 10 * time.Second
	modelLoadTimeout = 2 * time.Minute
	busSource        = "session"
)

// Call origins reported in call.result events.
const (
	OriginServer = "server"
	OriginLocal  = "local"
	OriginQueue  = "queue"
)

// RemoteError is a failure reported by the server for an outbound call.
type RemoteError struct {
	ID      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("call %s failed: %s", e.ID, e.Message)
}

// Options wires a Session. Transport, Registry and Queue are required.
type Options struct {
	Transport *transport.Transport
	Registry  *registry.Registry
	Queue     *queue.Queue
	Bus       *bus.Bus
	Engine    inference.Engine
	Model     string
}

// Session is the orchestrator. The transport's state holder is the single
// authoritative connection state; the session only observes it.
type Session struct {
	tr     *transport.Transport
	reg    *registry.Registry
	q      *queue.Queue
	bus    *bus.Bus
	engine inference.Engine
	model  string
	state  *transport.StateHolder

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	observe func()

	mu      sync.Mutex
	closed  bool
	calls   map[string]*FunctionCall
	waiters map[string]chan protocol.Message
	lastErr string
}

// New wires the session into the transport and starts observing state.
func New(opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tr:       opts.Transport,
		reg:      opts.Registry,
		q:        opts.Queue,
		bus:      opts.Bus,
		engine:   opts.Engine,
		model:    opts.Model,
		state:    opts.Transport.State(),
		ctx:     ctx,
		cancel:  cancel,
		calls:   make(map[string]*FunctionCall),
		waiters: make(map[string]chan protocol.Message),
	}
	s.tr.SetHandler(s.handleMessage)
	s.observe = s.state.Observe(s.onStateChange)
	s.q.OnChange(func(n int) {
		s.bus.Emit(bus.EventQueueCount, "queue", bus.QueueCountData{Pending: n})
	})
	s.q.OnSynced(func(res queue.SyncResult) {
		s.bus.Emit(bus.EventQueueSynced, "queue", bus.QueueSyncedData{
			Executed: res.Executed,
			Requeued: res.Requeued,
			Dropped:  res.Dropped,
			Pending:  s.q.Count(),
		})
	})
	return s
}

// Connect starts connecting to url.
func (s *Session) Connect(url string) error {
	return s.tr.Connect(url)
}

// Disconnect closes the connection and unloads the inference engine.
func (s *Session) Disconnect() {
	s.tr.Disconnect()
	if s.engine != nil && s.engine.IsLoaded() {
		s.engine.Unload()
		logger.Info("inference model unloaded")
	}
}

// Close disconnects, marks calls still running as cancelled and waits for
// background work to finish. Nothing new is started once Close begins.
func (s *Session) Close() {
	s.Disconnect()
	s.observe()

	s.mu.Lock()
	s.closed = true
	var cancelled []FunctionCall
	for _, call := range s.calls {
		if err := call.advance(CallCancelled); err == nil {
			call.Error = "session closed"
			cancelled = append(cancelled, *call)
		}
	}
	s.mu.Unlock()

	for _, call := range cancelled {
		logger.Info("call cancelled", "id", call.ID, "name", call.Name, "origin", call.origin)
		s.bus.Emit(bus.EventCallResult, busSource, bus.CallResultData{
			CallID: call.ID,
			Name:   call.Name,
			Status: call.Status.String(),
			Origin: call.origin,
			Error:  call.Error,
		})
	}

	s.cancel()
	s.wg.Wait()
}

// spawn runs fn in the background unless Close has begun. The closed check
// and wg.Add share s.mu so Close never waits on a group that can still grow.
func (s *Session) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Session) State() transport.State { return s.state.Get() }

// Online reports whether the session is connected.
func (s *Session) Online() bool { return s.state.Get().Connected() }

// LastError returns the most recent connection error, cleared on connect.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Registry() *registry.Registry { return s.reg }

func (s *Session) Queue() *queue.Queue { return s.q }

func (s *Session) Transport() *transport.Transport { return s.tr }

// onStateChange runs synchronously for every transition and must not block.
func (s *Session) onStateChange(prev, next transport.State) {
	s.mu.Lock()
	switch next.Kind {
	case transport.KindError:
		s.lastErr = next.Message
	case transport.KindConnected:
		s.lastErr = ""
	}
	var lost []chan protocol.Message
	if prev.Connected() && !next.Connected() {
		for id, ch := range s.waiters {
			lost = append(lost, ch)
			delete(s.waiters, id)
		}
	}
	s.mu.Unlock()

	for _, ch := range lost {
		select {
		case ch <- protocol.FunctionResult("", protocol.StatusError, nil, "connection lost"):
		default:
		}
	}

	s.bus.Emit(bus.EventConnectionState, busSource, bus.ConnectionStateData{
		Previous: prev.Kind.String(),
		State:    next.Kind.String(),
		Error:    next.Message,
	})

	if !prev.Connected() && next.Connected() {
		s.spawn(s.onConnected)
	}
}

func (s *Session) onConnected() {
	if s.engine != nil && s.model != "" && !s.engine.IsLoaded() {
		s.spawn(s.loadModel)
	}
	s.q.Sync(s.ctx, s)
}

func (s *Session) loadModel() {
	ctx, cancel := context.WithTimeout(s.ctx, modelLoadTimeout)
	defer cancel()
	if err := s.engine.Load(ctx, s.model); err != nil {
		logger.Warn("background model load failed", "model", s.model, "err", err)
	}
}

func (s *Session) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeFunctionCall:
		if !s.Online() {
			s.deferCall(queue.FromMessage(msg))
			return
		}
		started := s.spawn(func() {
			_, _ = s.execute(s.ctx, msg.ID, msg.Name, msg.Parameters, OriginServer)
		})
		if !started {
			s.deferCall(queue.FromMessage(msg))
		}
	case protocol.TypeFunctionResult:
		s.mu.Lock()
		ch, ok := s.waiters[msg.ID]
		s.mu.Unlock()
		if !ok {
			logger.Debug("result for unknown call", "id", msg.ID, "status", msg.Status)
			return
		}
		select {
		case ch <- msg:
		default:
			logger.Warn("dropping result, waiter busy", "id", msg.ID, "status", msg.Status)
		}
	case protocol.TypePong:
		logger.Debug("pong received")
	}
}

func (s *Session) deferCall(call queue.Call) {
	if err := s.q.Enqueue(call); err != nil {
		logger.Warn("deferred call kept in memory only", "id", call.ID, "err", err)
	}
	s.bus.Emit(bus.EventCallResult, busSource, bus.CallResultData{
		CallID: call.ID,
		Name:   call.Name,
		Status: string(protocol.StatusQueued),
		Origin: OriginQueue,
	})
}

// begin registers a pending call, refusing an id that is already running.
func (s *Session) begin(id, name string, params *protocol.Object, origin string) (*FunctionCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.calls[id]; busy {
		return nil, false
	}
	call := &FunctionCall{ID: id, Name: name, Parameters: params, Status: CallPending, origin: origin}
	s.calls[id] = call
	return call, true
}

func (s *Session) end(id string) {
	s.mu.Lock()
	delete(s.calls, id)
	s.mu.Unlock()
}

// advance moves call to next and records its outcome. It reports false when
// the move is refused, which happens once Close has cancelled the call.
func (s *Session) advance(call *FunctionCall, next CallStatus, result *protocol.Value, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := call.advance(next); err != nil {
		logger.Debug("call status unchanged", "id", call.ID, "err", err)
		return false
	}
	call.Result = result
	call.Error = errMsg
	return true
}

// Calls returns a snapshot of the calls currently being executed.
func (s *Session) Calls() []FunctionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FunctionCall, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, *call)
	}
	return out
}

func errCancelled(id string) error {
	return fmt.Errorf("call %s cancelled: session closed", id)
}

// send writes a result, dropping it when the connection is gone. The call
// itself has already run and is not retried.
func (s *Session) send(msg protocol.Message) {
	ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
	defer cancel()
	if err := s.tr.Send(ctx, msg); err != nil {
		logger.Warn("result not delivered", "id", msg.ID, "status", msg.Status, "err", err)
	}
}

// execute is the live path: it reports executing, runs the function and
// reports success or error over the wire.
func (s *Session) execute(ctx context.Context, id, name string, params *protocol.Object, origin string) (protocol.Value, error) {
	call, ok := s.begin(id, name, params, origin)
	if !ok {
		err := fmt.Errorf("call %s already in progress", id)
		logger.Warn("duplicate call rejected", "id", id, "name", name)
		s.send(protocol.FunctionResult(id, protocol.StatusError, nil, err.Error()))
		return protocol.Value{}, err
	}
	defer s.end(id)

	if !s.advance(call, CallExecuting, nil, "") {
		return protocol.Value{}, errCancelled(id)
	}
	s.send(protocol.FunctionResult(id, protocol.StatusExecuting, nil, ""))
	start := time.Now()
	result, err := s.reg.Execute(ctx, name, params)
	if err != nil {
		if !s.advance(call, CallError, nil, err.Error()) {
			return protocol.Value{}, errCancelled(id)
		}
		logger.Warn("function failed", "id", id, "name", name, "origin", origin, "err", err)
		s.send(protocol.FunctionResult(id, protocol.StatusError, nil, err.Error()))
		s.emitResult(id, name, protocol.StatusError, origin, err.Error())
		return protocol.Value{}, err
	}
	if !s.advance(call, CallSuccess, &result, "") {
		return protocol.Value{}, errCancelled(id)
	}

	logger.Info("function executed", "id", id, "name", name, "origin", origin, "latencyMs", time.Since(start).Milliseconds())
	s.send(protocol.FunctionResult(id, protocol.StatusSuccess, &result, ""))
	s.emitResult(id, name, protocol.StatusSuccess, origin, "")
	return result, nil
}

func (s *Session) emitResult(id, name string, status protocol.Status, origin, errMsg string) {
	s.bus.Emit(bus.EventCallResult, busSource, bus.CallResultData{
		CallID: id,
		Name:   name,
		Status: string(status),
		Origin: origin,
		Error:  errMsg,
	})
}

// ExecuteQueued replays a deferred call. Failures are returned to the queue
// for requeueing and are not reported over the wire. A call cancelled by
// Close after it ran is not handed back, so it is never replayed twice.
func (s *Session) ExecuteQueued(ctx context.Context, qc queue.Call) error {
	if !s.Online() {
		return queue.ErrOffline
	}
	call, ok := s.begin(qc.ID, qc.Name, qc.Parameters, OriginQueue)
	if !ok {
		return fmt.Errorf("call %s already in progress", qc.ID)
	}
	defer s.end(qc.ID)

	if !s.advance(call, CallExecuting, nil, "") {
		return errCancelled(qc.ID)
	}
	result, err := s.reg.Execute(ctx, qc.Name, qc.Parameters)
	if err != nil {
		if !s.advance(call, CallError, nil, err.Error()) {
			return errCancelled(qc.ID)
		}
		return err
	}
	if !s.advance(call, CallSuccess, &result, "") {
		logger.Info("queued call ran but session closed before reporting", "id", qc.ID, "name", qc.Name)
		return nil
	}
	logger.Info("queued call executed", "id", qc.ID, "name", qc.Name, "retries", qc.RetryCount)
	s.send(protocol.FunctionResult(qc.ID, protocol.StatusSuccess, &result, ""))
	s.emitResult(qc.ID, qc.Name, protocol.StatusSuccess, OriginQueue, "")
	return nil
}

// DispatchResult describes a locally originated call.
type DispatchResult struct {
	ID     string
	Queued bool
	Result protocol.Value
}

// Dispatch runs a locally originated call. When connected it executes now and
// reports progress and outcome to the server; otherwise it is deferred to the
// offline queue and replayed on the next connect.
func (s *Session) Dispatch(ctx context.Context, name string, params *protocol.Object) (DispatchResult, error) {
	id := uuid.NewString()
	if params == nil {
		params = protocol.NewObject()
	}
	if !s.Online() {
		call := queue.NewCall(id, name, params)
		s.deferCall(call)
		return DispatchResult{ID: id, Queued: true}, nil
	}
	result, err := s.execute(ctx, id, name, params, OriginLocal)
	return DispatchResult{ID: id, Result: result}, err
}

// Call asks the server to run name and waits for its terminal result.
// executing and queued notices are treated as progress.
func (s *Session) Call(ctx context.Context, name string, params *protocol.Object) (protocol.Value, error) {
	if !s.Online() {
		return protocol.Value{}, transport.ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan protocol.Message, 8)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}()

	if err := s.tr.Send(ctx, protocol.FunctionCall(id, name, params)); err != nil {
		return protocol.Value{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return protocol.Value{}, ctx.Err()
		case msg := <-ch:
			switch msg.Status {
			case protocol.StatusExecuting, protocol.StatusQueued:
				logger.Debug("remote call progress", "id", id, "status", msg.Status)
			case protocol.StatusSuccess:
				if msg.Result == nil {
					return protocol.Null(), nil
				}
				return *msg.Result, nil
			default:
				return protocol.Value{}, &RemoteError{ID: id, Message: msg.Error}
			}
		}
	}
}
