package outbox

import (
	"context"
	"time"
)

// DefaultPageLimit is applied when a caller does not bound a query.
const DefaultPageLimit = 50

// PageRequest is a limit/offset window over a selection query.
type PageRequest struct {
	Limit  int
	Offset int
}

// Normalize clamps the request to sane values.
func (p PageRequest) Normalize() PageRequest {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Page is one window of a selection query plus the total match count.
type Page struct {
	Items  []*Event `json:"items"`
	Total  int64    `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// HasMore reports whether rows remain past this window.
func (p Page) HasMore() bool {
	return int64(p.Offset+len(p.Items)) < p.Total
}

// Repository defines the persistence contract for outbox events.
type Repository interface {
	// Save upserts a single event.
	Save(ctx context.Context, event *Event) error

	// SaveAll upserts a batch of events as one transaction.
	SaveAll(ctx context.Context, events []*Event) error

	// FindByID retrieves an event, or nil when absent.
	FindByID(ctx context.Context, id int64) (*Event, error)

	// FindPending returns PENDING events oldest-first so the poller
	// drains in creation order.
	FindPending(ctx context.Context, page PageRequest) (*Page, error)

	// FindFailedForRetry returns FAILED events still under the retry
	// budget, oldest-first.
	FindFailedForRetry(ctx context.Context, maxRetries int, page PageRequest) (*Page, error)

	// FindByStatus returns events in the given status, oldest-first.
	FindByStatus(ctx context.Context, status EventStatus, page PageRequest) (*Page, error)

	// FindByAggregateID returns every event for a business aggregate,
	// newest-first.
	FindByAggregateID(ctx context.Context, aggregateID int64) ([]*Event, error)

	// DeleteProcessedBefore removes PROCESSED events whose processed_at
	// predates the cutoff and returns the count removed.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByStatus returns the number of events in the given status.
	CountByStatus(ctx context.Context, status EventStatus) (int64, error)
}
