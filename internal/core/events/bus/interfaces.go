package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus the engine publishes
// rollback lifecycle events on.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type.
// - Synchronous delivery: Publish calls handlers in the caller goroutine.
// - Error aggregation: handler errors are joined and returned from Publish.
//
// Handlers should be quick or offload heavy work; the simulation loop is the
// publisher.
type EventBus interface {
	// Publish delivers the event synchronously to all active subscribers of
	// event.Type. If handlers return errors, a joined error is returned.
	Publish(event Event) error
	// Subscribe registers a handler for an event type and returns a handle
	// used to cancel later.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. Safe to call with nil.
	Unsubscribe(Subscription) error
}

// Event is one engine notification.
type Event struct {
	Type      string
	Source    string
	Timestamp time.Time
	Data      any
}

// EventHandler consumes one event. A returned error is surfaced to the
// publisher but does not stop delivery to other handlers.
type EventHandler func(Event) error

// Subscription is a cancelable handle for one registered handler.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}
