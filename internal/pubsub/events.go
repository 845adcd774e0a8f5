// Package pubsub carries actor and log events to whoever listens: the
// scenario runner, the debug log file, and tests.
package pubsub

import (
	"context"
	"time"
)

// EventType says what happened to the thing a payload describes.
type EventType string

const (
	// CreatedEvent marks something new, such as a log entry.
	CreatedEvent EventType = "created"
	// UpdatedEvent marks a change to a unit: a handled command, a new
	// expectation, a finished regeneration.
	UpdatedEvent EventType = "updated"
	// DeletedEvent marks an expectation removed from a unit.
	DeletedEvent EventType = "deleted"
)

// Event is one published payload, stamped when the broker accepted it.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber hands out event streams that end with ctx.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher accepts events without blocking on slow readers.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
