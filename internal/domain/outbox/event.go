package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventStatus represents the delivery state of an outbox event.
type EventStatus string

const (
	StatusPending    EventStatus = "PENDING"
	StatusProcessing EventStatus = "PROCESSING"
	StatusProcessed  EventStatus = "PROCESSED"
	StatusFailed     EventStatus = "FAILED"
)

var (
	ErrInvalidEvent      = errors.New("invalid outbox event")
	ErrEventNotFound     = errors.New("outbox event not found")
	ErrInvalidTransition = errors.New("invalid outbox event transition")
	ErrRetryExhausted    = errors.New("outbox event exceeded max retry attempts")
)

// maxErrorLength bounds the persisted failure message so a chatty
// transport cannot blow up row size.
const maxErrorLength = 1000

// Event is a durable record of a domain event awaiting delivery.
// It is written in the same transaction as the business change it
// describes and drained asynchronously by the dispatch worker.
// It contains no database tags or infrastructure details.
type Event struct {
	ID            int64           `json:"id,string"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   int64           `json:"aggregate_id,string"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        EventStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	RetryCount    int             `json:"retry_count"`
	Error         string          `json:"error,omitempty"`
}

// NewEvent creates a pending outbox event. The caller supplies the record id
// (snowflake) so the id exists before the row is persisted.
func NewEvent(id int64, aggregateType string, aggregateID int64, eventType string, payload json.RawMessage) (*Event, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if aggregateID <= 0 {
		return nil, fmt.Errorf("%w: aggregate id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(aggregateType) == "" {
		return nil, fmt.Errorf("%w: aggregate type is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}

	return &Event{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
		RetryCount:    0,
	}, nil
}

// MarkProcessing transitions the event to PROCESSING. A processed event is
// terminal and must not be resurrected.
func (e *Event) MarkProcessing() error {
	if e.Status == StatusProcessed {
		return fmt.Errorf("%w: cannot mark processed event as processing", ErrInvalidTransition)
	}
	e.Status = StatusProcessing
	return nil
}

// MarkProcessed transitions the event to its terminal state and clears any
// failure left over from earlier attempts.
func (e *Event) MarkProcessed() {
	now := time.Now().UTC()
	e.Status = StatusProcessed
	e.ProcessedAt = &now
	e.Error = ""
}

// MarkFailed records a delivery failure. The retry counter is cumulative
// across attempts; it is never reset.
func (e *Event) MarkFailed(message string) {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	e.Status = StatusFailed
	e.Error = message
	e.RetryCount++
}

// ResetToPending re-queues a failed event for another delivery attempt.
// RetryCount and Error are deliberately kept: the counter tracks cumulative
// failures, not the current attempt.
func (e *Event) ResetToPending() error {
	if e.Status == StatusProcessed {
		return fmt.Errorf("%w: cannot reset processed event to pending", ErrInvalidTransition)
	}
	e.Status = StatusPending
	return nil
}

// CanRetry reports whether the event is eligible for another delivery
// attempt under the given retry budget.
func (e *Event) CanRetry(maxRetries int) bool {
	return e.Status == StatusFailed && e.RetryCount < maxRetries
}
