package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/linanwx/clawlink/logger"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event *Event)

// Subscription represents a subscription to events.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   Handler
}

// Bus fans session events out to read-only observers (status views,
// notification hooks). Events are delivered on a single goroutine in publish
// order, so a slow handler delays later events but never reorders them.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	order         []string
	subCounter    int64

	// Buffered channel for async event processing
	eventChan chan *Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBus creates a new event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	b := &Bus{
		subscriptions: make(map[string]*Subscription),
		eventChan:     make(chan *Event, bufferSize),
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.processEvents()

	return b
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subCounter++
	id := fmt.Sprintf("sub-%d", b.subCounter)

	b.subscriptions[id] = &Subscription{
		ID:        id,
		EventType: eventType,
		Handler:   handler,
	}
	b.order = append(b.order, id)

	logger.Debug("subscription added", "id", id, "eventType", eventType)
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[id]; !ok {
		return
	}
	delete(b.subscriptions, id)
	for i, sid := range b.order {
		if sid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish sends an event to the bus asynchronously.
func (b *Bus) Publish(event *Event) {
	select {
	case <-b.done:
		logger.Warn("bus closed, event dropped", "type", event.Type)
		return
	default:
	}
	select {
	case b.eventChan <- event:
		logger.Debug("event published", "type", event.Type, "source", event.Source)
	default:
		logger.Warn("event buffer full, event dropped", "type", event.Type)
	}
}

// Emit builds and publishes an event, logging encoding failures.
func (b *Bus) Emit(eventType EventType, source string, data any) {
	if b == nil {
		return
	}
	event, err := NewEvent(eventType, source, data)
	if err != nil {
		logger.Warn("failed to encode event", "type", eventType, "err", err)
		return
	}
	b.Publish(event)
}

// Close shuts down the event bus after delivering queued events.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// processEvents is the main event processing loop.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventChan:
			b.dispatch(event)
		case <-b.done:
			// Drain remaining events
			for {
				select {
				case event := <-b.eventChan:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// dispatch delivers an event to matching subscribers in subscription order.
func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.order))
	for _, id := range b.order {
		if sub := b.subscriptions[id]; sub.EventType == event.Type {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	ctx := context.Background()
	for _, sub := range subs {
		b.call(ctx, sub, event)
	}
}

func (b *Bus) call(ctx context.Context, s *Subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "subscription", s.ID, "panic", r)
		}
	}()
	s.Handler(ctx, event)
}
