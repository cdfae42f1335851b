package memory

import (
	"context"
	"sync"

	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/eventbus"
	"go.uber.org/zap"
)

// Handler consumes a single domain event.
type Handler func(ctx context.Context, event eventbus.Event) error

// Bus is an in-process publisher for local runs and tests. Handler failures
// are logged, never propagated: one broken subscriber must not poison the
// outbox for the rest.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.Named("eventbus.memory"),
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *Bus) Publish(ctx context.Context, event eventbus.Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.EventType]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no_handlers_for_event", zap.String("event_type", event.EventType))
		return nil
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Error("event_handler_failed",
				zap.Error(err),
				zap.String("event_type", event.EventType),
				zap.Int64("event_id", event.EventID),
			)
		}
	}
	return nil
}

func (b *Bus) PublishAll(ctx context.Context, events []eventbus.Event) error {
	for _, event := range events {
		if err := b.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// HandlerCount reports registered handlers for an event type.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
