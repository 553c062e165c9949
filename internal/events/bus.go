// Package events carries intra-process notifications between the scheduler
// loop and its observers (audit log, desktop notifications, admin surface).
package events

import (
	"sync"
	"time"
)

// EventType identifies a scheduler event.
type EventType string

const (
	// EventCycleCompleted fires after a full evaluation cycle publishes.
	EventCycleCompleted EventType = "cycle_completed"
	// EventCycleFailed fires when a cycle aborts before publishing.
	EventCycleFailed EventType = "cycle_failed"
	// EventEmergencyDetected fires for each order that crossed the
	// emergency deadline threshold during queue building.
	EventEmergencyDetected EventType = "emergency_detected"
	// EventConflictDetected fires when reconciliation finds diverged
	// revisions for an order.
	EventConflictDetected EventType = "conflict_detected"
	// EventOrderRejected fires for each ledger record that failed
	// validation during reconciliation.
	EventOrderRejected EventType = "order_rejected"
	// EventStatusChanged fires on every accepted order status transition.
	EventStatusChanged EventType = "status_changed"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber receives events for a subscribed type.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe fan-out. Each subscriber gets a
// buffered channel; when the buffer is full the event is dropped for that
// subscriber so a slow observer can never stall an evaluation cycle.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function. Delivery runs on a dedicated goroutine per subscriber.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				// A panicking subscriber must not take the bus down.
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish delivers an event to every subscriber of the type without
// blocking the caller.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts down all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
