package worker

import (
	"context"
	"time"

	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/usecase/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_processed_total",
		Help: "Outbox events driven to a terminal outcome, by result.",
	}, []string{"result"})

	eventsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_cleaned_total",
		Help: "Processed outbox events removed by retention cleanup.",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_poll_duration_seconds",
		Help:    "Duration of one poll iteration.",
		Buckets: prometheus.DefBuckets,
	})
)

// Config tunes the dispatcher loop.
type Config struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
	BatchSize       int
	RetentionDays   int
}

// Dispatcher drains the outbox: each poll processes one page of pending
// events then one page of retry-eligible failures, strictly sequentially.
// Retention cleanup runs on its own ticker, decoupled from poll timing.
// The design assumes a single dispatcher instance per store; selection has
// no locking, so two concurrent dispatchers could double-publish.
type Dispatcher struct {
	service *dispatch.Service
	repo    outbox.Repository
	logger  *zap.Logger
	cfg     Config
}

func NewDispatcher(service *dispatch.Service, repo outbox.Repository, logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = outbox.DefaultPageLimit
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Dispatcher{
		service: service,
		repo:    repo,
		logger:  logger.Named("outbox.worker"),
		cfg:     cfg,
	}
}

// Run polls until the context is cancelled. Iteration-level errors are
// logged and the loop continues; only the caller's bootstrap decides what is
// fatal.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("outbox_worker_started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Duration("cleanup_interval", d.cfg.CleanupInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("max_retries", d.service.MaxRetries()),
		zap.Int("retention_days", d.cfg.RetentionDays),
	)

	if err := d.poll(ctx); err != nil {
		d.logger.Error("outbox_initial_poll_failed", zap.Error(err))
	}

	pollTicker := time.NewTicker(d.cfg.PollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(d.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox_worker_stopped")
			return
		case <-pollTicker.C:
			if err := d.poll(ctx); err != nil {
				d.logger.Error("outbox_poll_failed", zap.Error(err))
			}
		case <-cleanupTicker.C:
			if _, err := d.service.CleanupProcessedEvents(ctx, d.cfg.RetentionDays); err != nil {
				d.logger.Error("outbox_cleanup_failed", zap.Error(err))
			}
		}
	}
}

// poll drains one pending page and one retry page. A single event's failure
// never aborts the batch.
func (d *Dispatcher) poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		pollDuration.Observe(time.Since(start).Seconds())
	}()

	page := outbox.PageRequest{Limit: d.cfg.BatchSize}

	pending, err := d.repo.FindPending(ctx, page)
	if err != nil {
		return err
	}
	if pending.Total > 0 {
		d.logger.Info("outbox_pending_batch",
			zap.Int64("total", pending.Total),
			zap.Int("processing", len(pending.Items)),
		)
	}
	d.processBatch(ctx, pending.Items)

	failed, err := d.repo.FindFailedForRetry(ctx, d.service.MaxRetries(), page)
	if err != nil {
		return err
	}
	if failed.Total > 0 {
		d.logger.Info("outbox_retry_batch",
			zap.Int64("total", failed.Total),
			zap.Int("processing", len(failed.Items)),
		)
	}
	d.processBatch(ctx, failed.Items)

	return nil
}

func (d *Dispatcher) processBatch(ctx context.Context, events []*outbox.Event) {
	for _, event := range events {
		if err := d.service.ProcessEvent(ctx, event); err != nil {
			eventsProcessed.WithLabelValues("failed").Inc()
			d.logger.Error("outbox_event_failed",
				zap.Error(err),
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Int("retry_count", event.RetryCount),
			)
			continue
		}
		eventsProcessed.WithLabelValues("processed").Inc()
		d.logger.Info("outbox_event_processed",
			zap.Int64("event_id", event.ID),
			zap.String("event_type", event.EventType),
		)
	}
}

// Cleanup triggers one retention pass outside the ticker cadence.
func (d *Dispatcher) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := d.service.CleanupProcessedEvents(ctx, d.cfg.RetentionDays)
	if err == nil {
		eventsCleaned.Add(float64(deleted))
	}
	return deleted, err
}
