package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/eventbus"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"go.uber.org/zap"
)

// Service drives outbox events through their state machine: claim, publish,
// record the outcome. The publisher is injected so the transport stays a
// black box to the dispatch flow.
type Service struct {
	repo       outbox.Repository
	publisher  eventbus.Publisher
	logger     *zap.Logger
	maxRetries int
}

func NewService(repo outbox.Repository, publisher eventbus.Publisher, logger *zap.Logger, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		repo:       repo,
		publisher:  publisher,
		logger:     logger.Named("outbox.dispatch"),
		maxRetries: maxRetries,
	}
}

// MaxRetries returns the configured retry budget.
func (s *Service) MaxRetries() int {
	return s.maxRetries
}

// ProcessEvent makes exactly one publish attempt for the event. State is
// persisted before and after the attempt, so a crash mid-publish leaves the
// record visibly PROCESSING. On failure the event is marked FAILED and the
// publish error is returned to the caller.
func (s *Service) ProcessEvent(ctx context.Context, event *outbox.Event) error {
	if err := event.MarkProcessing(); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, event); err != nil {
		return fmt.Errorf("save processing event: %w", err)
	}

	busEvent := eventbus.Event{
		EventID:       event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Payload:       event.Payload,
		OccurredAt:    event.CreatedAt,
	}

	if err := s.publisher.Publish(ctx, busEvent); err != nil {
		event.MarkFailed(err.Error())
		if saveErr := s.repo.Save(ctx, event); saveErr != nil {
			return fmt.Errorf("save failed event: %w (publish error: %v)", saveErr, err)
		}
		return err
	}

	event.MarkProcessed()
	if err := s.repo.Save(ctx, event); err != nil {
		return fmt.Errorf("save processed event: %w", err)
	}
	return nil
}

// RetryFailedEvent re-queues a failed event for the next poll. It does not
// attempt publication itself.
func (s *Service) RetryFailedEvent(ctx context.Context, id int64) error {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: %d", outbox.ErrEventNotFound, id)
	}
	if !event.CanRetry(s.maxRetries) {
		return fmt.Errorf("%w: event %d (%d attempts, max %d)", outbox.ErrRetryExhausted, id, event.RetryCount, s.maxRetries)
	}
	if err := event.ResetToPending(); err != nil {
		return err
	}
	return s.repo.Save(ctx, event)
}

// RetryAllFailedEvents re-queues every retry-eligible failed event in one
// batch. Returns the number retried and the number left dead-lettered.
func (s *Service) RetryAllFailedEvents(ctx context.Context) (retried int, deadLettered int, err error) {
	page, err := s.repo.FindFailedForRetry(ctx, s.maxRetries, outbox.PageRequest{})
	if err != nil {
		return 0, 0, err
	}

	toRetry := make([]*outbox.Event, 0, len(page.Items))
	for _, event := range page.Items {
		if !event.CanRetry(s.maxRetries) {
			deadLettered++
			continue
		}
		if err := event.ResetToPending(); err != nil {
			return 0, 0, err
		}
		toRetry = append(toRetry, event)
	}

	if len(toRetry) > 0 {
		if err := s.repo.SaveAll(ctx, toRetry); err != nil {
			return 0, deadLettered, err
		}
	}
	return len(toRetry), deadLettered, nil
}

// DeadLetterCount counts FAILED events, including those past the retry
// budget.
func (s *Service) DeadLetterCount(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, outbox.StatusFailed)
}

// CleanupProcessedEvents purges PROCESSED events older than the retention
// window and returns the count removed.
func (s *Service) CleanupProcessedEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err := s.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("outbox_cleanup_completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
