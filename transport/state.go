package transport

import (
	"sync"
)

// StateKind enumerates connection states.
type StateKind int

const (
	KindDisconnected StateKind = iota
	KindConnecting
	KindConnected
	KindError
)

func (k StateKind) String() string {
	switch k {
	case KindConnecting:
		return "connecting"
	case KindConnected:
		return "connected"
	case KindError:
		return "error"
	}
	return "disconnected"
}

// State is a connection state. Message is set only for KindError.
type State struct {
	Kind    StateKind
	Message string
}

var (
	StateDisconnected = State{Kind: KindDisconnected}
	StateConnecting   = State{Kind: KindConnecting}
	StateConnected    = State{Kind: KindConnected}
)

// ErrorState builds an error state carrying msg.
func ErrorState(msg string) State {
	return State{Kind: KindError, Message: msg}
}

func (s State) Connected() bool { return s.Kind == KindConnected }

func (s State) String() string {
	if s.Kind == KindError {
		return "error: " + s.Message
	}
	return s.Kind.String()
}

// Observer receives every state transition in order.
type Observer func(prev, next State)

type observerEntry struct {
	id int
	fn Observer
}

// StateHolder is the single authoritative connection state of a session.
// Observers run synchronously, in registration order, and must not call Set.
type StateHolder struct {
	mu        sync.RWMutex
	state     State
	notifyMu  sync.Mutex
	observers []observerEntry
	nextID    int
}

// NewStateHolder creates a holder in the disconnected state.
func NewStateHolder() *StateHolder {
	return &StateHolder{state: StateDisconnected}
}

func (h *StateHolder) Get() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Set stores next and notifies observers when it differs from the current
// state. Transitions are delivered in the order they were set.
func (h *StateHolder) Set(next State) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	prev := h.state
	if prev == next {
		h.mu.Unlock()
		return
	}
	h.state = next
	observers := make([]observerEntry, len(h.observers))
	copy(observers, h.observers)
	h.mu.Unlock()

	for _, o := range observers {
		o.fn(prev, next)
	}
}

// Observe registers fn and returns a function that removes it.
func (h *StateHolder) Observe(fn Observer) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.observers = append(h.observers, observerEntry{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, o := range h.observers {
			if o.id == id {
				h.observers = append(h.observers[:i], h.observers[i+1:]...)
				return
			}
		}
	}
}
