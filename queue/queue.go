// Package queue is a durable FIFO of function calls deferred while the
// session is offline, replayed when it reconnects.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/linanwx/clawlink/logger"
	"github.com/linanwx/clawlink/storage"
)

// DefaultKey is the storage key holding the queue.
const DefaultKey = "offlineFunctionQueue"

// ErrOffline is returned when a queued call is forced to execute while the
// session is not connected.
var ErrOffline = errors.New("cannot execute queued call while offline")

// Executor runs queued calls through the live execution path.
type Executor interface {
	Online() bool
	ExecuteQueued(ctx context.Context, call Call) error
}

// Options configures a Queue.
type Options struct {
	Key string
	// MaxRetries drops a call once its retry count exceeds it. Zero keeps
	// failing calls forever.
	MaxRetries int
}

// SyncResult summarises one replay pass.
type SyncResult struct {
	Executed int
	Requeued int
	Dropped  int
}

// Queue is safe for concurrent use. Every mutation rewrites the full queue to
// the store before returning.
type Queue struct {
	store      storage.Store
	key        string
	maxRetries int

	mu        sync.Mutex
	calls     []Call
	observers []func(count int)
	synced    []func(SyncResult)

	syncing atomic.Bool
	rerun   atomic.Bool
}

// New creates an empty queue backed by store. Call Load to restore persisted
// state.
func New(store storage.Store, opts Options) *Queue {
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	return &Queue{store: store, key: key, maxRetries: opts.MaxRetries}
}

// Load replaces the in-memory queue with the persisted one. A missing or
// unreadable blob yields an empty queue.
func (q *Queue) Load() {
	q.mu.Lock()
	q.calls = q.readStore()
	count := len(q.calls)
	q.mu.Unlock()

	logger.Info("offline queue loaded", "pending", count)
	q.notify(count)
}

func (q *Queue) readStore() []Call {
	if q.store == nil {
		return nil
	}
	data, err := q.store.Get(q.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("failed to read offline queue, starting empty", "key", q.key, "err", err)
		}
		return nil
	}
	calls, err := decodeCalls(data)
	if err != nil {
		logger.Warn("corrupt offline queue, starting empty", "key", q.key, "err", err)
		return nil
	}
	return calls
}

func (q *Queue) saveLocked() error {
	if q.store == nil {
		return nil
	}
	data, err := encodeCalls(q.calls)
	if err != nil {
		return err
	}
	return q.store.Put(q.key, data)
}

// OnChange registers fn to receive the pending count after each mutation.
func (q *Queue) OnChange(fn func(count int)) {
	q.mu.Lock()
	q.observers = append(q.observers, fn)
	q.mu.Unlock()
}

func (q *Queue) notify(count int) {
	q.mu.Lock()
	observers := make([]func(int), len(q.observers))
	copy(observers, q.observers)
	q.mu.Unlock()
	for _, fn := range observers {
		fn(count)
	}
}

// OnSynced registers fn to receive the totals of every Sync that ran, after
// its last pass finished and the syncing flag was cleared.
func (q *Queue) OnSynced(fn func(SyncResult)) {
	q.mu.Lock()
	q.synced = append(q.synced, fn)
	q.mu.Unlock()
}

// Enqueue appends call to the tail and persists the queue.
func (q *Queue) Enqueue(call Call) error {
	q.mu.Lock()
	q.calls = append(q.calls, call)
	err := q.saveLocked()
	count := len(q.calls)
	q.mu.Unlock()

	if err != nil {
		logger.Error("failed to persist offline queue", "op", "enqueue", "id", call.ID, "err", err)
	} else {
		logger.Info("call queued", "id", call.ID, "name", call.Name, "pending", count)
	}
	q.notify(count)
	return err
}

// Dequeue removes and returns the head.
func (q *Queue) Dequeue() (Call, bool) {
	q.mu.Lock()
	if len(q.calls) == 0 {
		q.mu.Unlock()
		return Call{}, false
	}
	call := q.calls[0]
	q.calls = append([]Call(nil), q.calls[1:]...)
	err := q.saveLocked()
	count := len(q.calls)
	q.mu.Unlock()

	if err != nil {
		logger.Error("failed to persist offline queue", "op", "dequeue", "id", call.ID, "err", err)
	}
	q.notify(count)
	return call, true
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Call, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.calls) == 0 {
		return Call{}, false
	}
	return q.calls[0], true
}

// Pending returns a snapshot of all queued calls in delivery order.
func (q *Queue) Pending() []Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Call(nil), q.calls...)
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Clear drops every queued call.
func (q *Queue) Clear() error {
	q.mu.Lock()
	q.calls = nil
	err := q.saveLocked()
	q.mu.Unlock()

	if err != nil {
		logger.Error("failed to persist offline queue", "op", "clear", "err", err)
	}
	q.notify(0)
	return err
}

// ExecuteNext force-executes the head. It fails with ErrOffline when exec is
// not online; a failed call is requeued at the tail.
func (q *Queue) ExecuteNext(ctx context.Context, exec Executor) error {
	if !exec.Online() {
		return ErrOffline
	}
	call, ok := q.Dequeue()
	if !ok {
		return nil
	}
	if err := exec.ExecuteQueued(ctx, call); err != nil {
		q.requeue(call, err)
		return err
	}
	return nil
}

// Sync replays the calls queued when the pass starts, one at a time in queue
// order. A failed call is requeued at the tail with its retry count bumped;
// calls requeued during the pass are left for the next one. The pass stops
// early when exec goes offline or ctx is done.
//
// A Sync that finds another pass running returns immediately with
// ran == false, but asks the running one to go round again once it is done,
// so calls enqueued mid-pass are not stranded while exec stays online. The
// returned totals cover every round.
func (q *Queue) Sync(ctx context.Context, exec Executor) (res SyncResult, ran bool) {
	for !q.syncing.CompareAndSwap(false, true) {
		q.rerun.Store(true)
		if q.syncing.Load() {
			logger.Debug("offline queue sync already running")
			return res, false
		}
		// the running pass finished between the swap and the flag; take over
	}

	for {
		q.rerun.Store(false)
		q.pass(ctx, exec, &res)
		q.syncing.Store(false)
		if !q.rerun.Load() || ctx.Err() != nil || !exec.Online() {
			break
		}
		if !q.syncing.CompareAndSwap(false, true) {
			// another Sync took over the rerun
			break
		}
		logger.Debug("offline queue sync rerun requested")
	}

	q.mu.Lock()
	synced := make([]func(SyncResult), len(q.synced))
	copy(synced, q.synced)
	q.mu.Unlock()
	for _, fn := range synced {
		fn(res)
	}
	return res, true
}

func (q *Queue) pass(ctx context.Context, exec Executor, res *SyncResult) {
	n := q.Count()
	if n == 0 {
		return
	}
	logger.Info("offline queue sync started", "pending", n)

	var executed, requeued, dropped int
	for i := 0; i < n; i++ {
		if ctx.Err() != nil || !exec.Online() {
			logger.Info("offline queue sync interrupted", "remaining", q.Count())
			break
		}
		call, ok := q.Dequeue()
		if !ok {
			break
		}
		if err := exec.ExecuteQueued(ctx, call); err != nil {
			if q.requeue(call, err) {
				requeued++
			} else {
				dropped++
			}
			continue
		}
		executed++
	}
	res.Executed += executed
	res.Requeued += requeued
	res.Dropped += dropped

	logger.Info("offline queue sync finished",
		"executed", executed,
		"requeued", requeued,
		"dropped", dropped,
		"pending", q.Count(),
	)
}

// Syncing reports whether a replay pass is in flight.
func (q *Queue) Syncing() bool { return q.syncing.Load() }

func (q *Queue) requeue(call Call, cause error) bool {
	call.RetryCount++
	if q.maxRetries > 0 && call.RetryCount > q.maxRetries {
		logger.Warn("dropping queued call after retries", "id", call.ID, "name", call.Name, "retries", call.RetryCount-1, "err", cause)
		return false
	}
	logger.Warn("queued call failed, requeued", "id", call.ID, "name", call.Name, "retry", call.RetryCount, "err", cause)
	_ = q.Enqueue(call)
	return true
}
