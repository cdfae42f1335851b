package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent(t *testing.T) *Event {
	t.Helper()
	event, err := NewEvent(1001, "Expense", 2002, "expense.created", json.RawMessage(`{"amount":100}`))
	require.NoError(t, err)
	return event
}

func TestNewEvent(t *testing.T) {
	event := newTestEvent(t)

	assert.Equal(t, int64(1001), event.ID)
	assert.Equal(t, "Expense", event.AggregateType)
	assert.Equal(t, int64(2002), event.AggregateID)
	assert.Equal(t, "expense.created", event.EventType)
	assert.JSONEq(t, `{"amount":100}`, string(event.Payload))
	assert.Equal(t, StatusPending, event.Status)
	assert.Equal(t, 0, event.RetryCount)
	assert.Nil(t, event.ProcessedAt)
	assert.Empty(t, event.Error)
	assert.False(t, event.CreatedAt.IsZero())
}

func TestNewEvent_Validation(t *testing.T) {
	tests := []struct {
		name          string
		id            int64
		aggregateType string
		aggregateID   int64
		eventType     string
	}{
		{"missing id", 0, "Expense", 2002, "expense.created"},
		{"missing aggregate id", 1001, "Expense", 0, "expense.created"},
		{"empty aggregate type", 1001, "", 2002, "expense.created"},
		{"blank aggregate type", 1001, "   ", 2002, "expense.created"},
		{"empty event type", 1001, "Expense", 2002, ""},
		{"blank event type", 1001, "Expense", 2002, "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvent(tt.id, tt.aggregateType, tt.aggregateID, tt.eventType, nil)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestMarkProcessing(t *testing.T) {
	event := newTestEvent(t)

	require.NoError(t, event.MarkProcessing())
	assert.Equal(t, StatusProcessing, event.Status)
}

func TestMarkProcessing_FromFailed(t *testing.T) {
	event := newTestEvent(t)
	event.MarkFailed("boom")

	require.NoError(t, event.MarkProcessing())
	assert.Equal(t, StatusProcessing, event.Status)
}

func TestMarkProcessing_RejectsProcessed(t *testing.T) {
	event := newTestEvent(t)
	require.NoError(t, event.MarkProcessing())
	event.MarkProcessed()

	err := event.MarkProcessing()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "cannot mark processed event as processing")
	assert.Equal(t, StatusProcessed, event.Status)
}

func TestMarkProcessed(t *testing.T) {
	event := newTestEvent(t)
	event.MarkFailed("previous failure")
	require.NoError(t, event.MarkProcessing())

	event.MarkProcessed()

	assert.Equal(t, StatusProcessed, event.Status)
	require.NotNil(t, event.ProcessedAt)
	assert.WithinDuration(t, time.Now().UTC(), *event.ProcessedAt, time.Second)
	assert.Empty(t, event.Error)
}

func TestMarkFailed(t *testing.T) {
	event := newTestEvent(t)
	require.NoError(t, event.MarkProcessing())

	event.MarkFailed("Connection timeout")

	assert.Equal(t, StatusFailed, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	assert.Equal(t, "Connection timeout", event.Error)
}

func TestMarkFailed_AccumulatesRetryCount(t *testing.T) {
	event := newTestEvent(t)

	event.MarkFailed("error 1")
	event.MarkFailed("error 2")
	event.MarkFailed("error 3")

	assert.Equal(t, 3, event.RetryCount)
	assert.Equal(t, StatusFailed, event.Status)
	assert.Equal(t, "error 3", event.Error)
}

func TestMarkFailed_TruncatesLongMessages(t *testing.T) {
	event := newTestEvent(t)

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	event.MarkFailed(string(long))

	assert.Len(t, event.Error, maxErrorLength)
}

func TestResetToPending(t *testing.T) {
	event := newTestEvent(t)
	event.MarkFailed("boom")

	require.NoError(t, event.ResetToPending())

	assert.Equal(t, StatusPending, event.Status)
	// Cumulative failure bookkeeping survives the reset.
	assert.Equal(t, 1, event.RetryCount)
	assert.Equal(t, "boom", event.Error)
}

func TestResetToPending_RejectsProcessed(t *testing.T) {
	event := newTestEvent(t)
	require.NoError(t, event.MarkProcessing())
	event.MarkProcessed()

	err := event.ResetToPending()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "cannot reset processed event to pending")
	assert.Equal(t, StatusProcessed, event.Status)
}

func TestCanRetry(t *testing.T) {
	event := newTestEvent(t)

	// PENDING is never retry-eligible, whatever the counter says.
	assert.False(t, event.CanRetry(3))

	event.MarkFailed("error 1")
	assert.True(t, event.CanRetry(3))

	event.MarkFailed("error 2")
	event.MarkFailed("error 3")
	assert.False(t, event.CanRetry(3))
	assert.True(t, event.CanRetry(5))
}

func TestCanRetry_NonFailedStatuses(t *testing.T) {
	event := newTestEvent(t)
	require.NoError(t, event.MarkProcessing())
	assert.False(t, event.CanRetry(3))

	event.MarkProcessed()
	assert.False(t, event.CanRetry(3))
}

func TestPageHasMore(t *testing.T) {
	page := Page{Items: make([]*Event, 50), Total: 120, Limit: 50, Offset: 0}
	assert.True(t, page.HasMore())

	page = Page{Items: make([]*Event, 20), Total: 120, Limit: 50, Offset: 100}
	assert.False(t, page.HasMore())
}

func TestPageRequestNormalize(t *testing.T) {
	page := PageRequest{}.Normalize()
	assert.Equal(t, DefaultPageLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)

	page = PageRequest{Limit: 10, Offset: -5}.Normalize()
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 0, page.Offset)
}
