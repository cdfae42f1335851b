package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEvent(id int64, eventType string) eventbus.Event {
	return eventbus.Event{
		EventID:       id,
		AggregateID:   42,
		AggregateType: "Expense",
		EventType:     eventType,
		Payload:       json.RawMessage(`{"amount":100}`),
		OccurredAt:    time.Now().UTC(),
	}
}

func TestPublish_DeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var received []eventbus.Event
	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error {
		received = append(received, event)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent(1, "expense.created")))

	require.Len(t, received, 1)
	assert.Equal(t, int64(1), received[0].EventID)
	assert.Equal(t, "expense.created", received[0].EventType)
}

func TestPublish_NoSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	assert.NoError(t, bus.Publish(context.Background(), testEvent(1, "expense.created")))
}

func TestPublish_HandlerErrorDoesNotPropagate(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var secondCalled bool
	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error {
		return errors.New("handler broke")
	})
	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error {
		secondCalled = true
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent(1, "expense.created")))
	assert.True(t, secondCalled)
}

func TestPublish_RoutesByEventType(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var created, approved int
	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error {
		created++
		return nil
	})
	bus.Subscribe("expense.approved", func(ctx context.Context, event eventbus.Event) error {
		approved++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent(1, "expense.created")))
	require.NoError(t, bus.Publish(context.Background(), testEvent(2, "expense.created")))
	require.NoError(t, bus.Publish(context.Background(), testEvent(3, "expense.approved")))

	assert.Equal(t, 2, created)
	assert.Equal(t, 1, approved)
}

func TestPublishAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var count int
	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error {
		count++
		return nil
	})

	events := []eventbus.Event{
		testEvent(1, "expense.created"),
		testEvent(2, "expense.created"),
	}
	require.NoError(t, bus.PublishAll(context.Background(), events))
	assert.Equal(t, 2, count)
}

func TestHandlerCount(t *testing.T) {
	bus := NewBus(zap.NewNop())
	assert.Equal(t, 0, bus.HandlerCount("expense.created"))

	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error { return nil })
	bus.Subscribe("expense.created", func(ctx context.Context, event eventbus.Event) error { return nil })

	assert.Equal(t, 2, bus.HandlerCount("expense.created"))
}
