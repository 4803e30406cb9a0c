package bus

import "time"

// Event types published by the simulation core.
const (
	// EventDesyncDetected carries a syncstream.Report. Published at most once per exchange.
	EventDesyncDetected = "sync.desync_detected"
	// EventSessionReset fires when a session boundary clears the queue and sync stream.
	EventSessionReset = "session.reset"
	// EventInboxOverflow fires when a producer could not hand a command to the simulation.
	EventInboxOverflow = "session.inbox_overflow"
)

// EventBus is an in-process pub/sub bus used for diagnostics leaving the simulation
// goroutine.
//
// Notes:
// - Synchronous delivery: Publish calls handlers in the caller goroutine, in subscription order.
// - Handler errors are joined and returned from Publish; they never reach the simulation.
// - All methods are safe for concurrent use.
type EventBus interface {
	// Publish delivers the event to every active subscriber of event.Type().
	Publish(event Event) error
	// Subscribe registers a handler for an event type.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error
	// PublishAsync publishes in a separate goroutine; the returned channel yields the
	// joined handler error (or nil) and is then closed.
	PublishAsync(event Event) <-chan error
	// GetMetrics returns a snapshot of delivery counters.
	GetMetrics() EventBusMetrics
}

// Event is an immutable notification.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked per delivered event.
	EventHandler func(event Event) error
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}

// EventBusMetrics are cumulative delivery counters.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
