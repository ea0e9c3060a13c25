// Package events is the in-process bus that carries committed state changes
// to subscribers such as cache invalidation. Publishing happens after the
// database transaction commits, so handlers never see rolled-back work.
package events

import (
	"context"
	"time"
)

// Event is a committed state change. Names are dotted, e.g. "hopper.leads.allocated".
type Event interface {
	EventName() string
	// OccurredAt is the commit time of the change, not the publish time.
	OccurredAt() time.Time
}

// BaseEvent carries the commit timestamp shared by every event.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the time the publisher wrote to the store.
func NewBaseEvent(at time.Time) BaseEvent {
	return BaseEvent{Timestamp: at.UTC()}
}

// Handler reacts to one event. Errors are logged by the bus.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to subscribers. Publish never blocks the caller on
// handler work and never reports handler failures back to it.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventName string, handler Handler)
}
