package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Event is a domain event as handed to the transport. It is reconstructed
// from an outbox row at dispatch time; OccurredAt carries the original
// creation timestamp, not the publish timestamp.
type Event struct {
	EventID       int64
	AggregateID   int64
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	OccurredAt    time.Time
}

// Publisher defines the interface for delivering domain events to
// subscribers. The dispatch engine treats it as a black box that either
// succeeds or fails with a human-readable message.
type Publisher interface {
	// Publish delivers a single event.
	Publish(ctx context.Context, event Event) error

	// PublishAll delivers a batch of events in order, stopping at the
	// first failure.
	PublishAll(ctx context.Context, events []Event) error
}
