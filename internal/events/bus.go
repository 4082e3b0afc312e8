package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for pool lifecycle events.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(WorkerStartedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the concrete type, so route through
	// a type switch rather than the interface.
	switch e := ev.(type) {
	case WorkerStartedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerStoppedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerStartFailedEvent:
		event.Publish(b.dispatcher, e)
	case RapidFailExceededEvent:
		event.Publish(b.dispatcher, e)
	case PoolDrainingEvent:
		event.Publish(b.dispatcher, e)
	case ConfigReloadedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes a typed handler; the handler's parameter type
// selects which events it receives. Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e WorkerStartedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(WorkerStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerStartFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RapidFailExceededEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PoolDrainingEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
