package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/eventbus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config tunes the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string

	// Publish rate limit, requests per minute. Zero disables limiting.
	RateLimitRPM   int
	RateLimitBurst int

	CircuitBreakerEnabled bool
	CBFailureThreshold    int
	CBMinRequests         int
	CBHalfOpenMaxSuccess  int
	CBSamplingDuration    time.Duration
	CBRecoveryTime        time.Duration
}

// Adapter publishes domain events to a Kafka topic, keyed by aggregate id so
// events for the same aggregate land on the same partition.
type Adapter struct {
	producer sarama.SyncProducer
	topic    string
	breaker  circuitBreaker
	limiter  *rate.Limiter
}

type circuitBreaker interface {
	Execute(fn func() error) error
}

type noopBreaker struct{}

func (noopBreaker) Execute(fn func() error) error {
	return fn()
}

type gobreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

func (g *gobreakerWrapper) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func newBreaker(cfg Config) circuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return noopBreaker{}
	}
	settings := gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: uint32(cfg.CBHalfOpenMaxSuccess),
		Interval:    cfg.CBSamplingDuration,
		Timeout:     cfg.CBRecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.CBMinRequests) {
				return false
			}
			return counts.TotalFailures >= uint32(cfg.CBFailureThreshold)
		},
	}
	return &gobreakerWrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}

func NewAdapter(cfg Config) (*Adapter, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("new kafka producer: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPM > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPM)/60, burst)
	}

	return &Adapter{
		producer: producer,
		topic:    cfg.Topic,
		breaker:  newBreaker(cfg),
		limiter:  limiter,
	}, nil
}

func (a *Adapter) Publish(ctx context.Context, event eventbus.Event) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish rate limit: %w", err)
		}
	}

	msg := &sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.AggregateID, 10)),
		Value: sarama.ByteEncoder(event.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(strconv.FormatInt(event.EventID, 10))},
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
			{Key: []byte("aggregate_type"), Value: []byte(event.AggregateType)},
			{Key: []byte("occurred_at"), Value: []byte(event.OccurredAt.UTC().Format(time.RFC3339Nano))},
		},
	}

	return a.breaker.Execute(func() error {
		if _, _, err := a.producer.SendMessage(msg); err != nil {
			return fmt.Errorf("publish event %d: %w", event.EventID, err)
		}
		return nil
	})
}

func (a *Adapter) PublishAll(ctx context.Context, events []eventbus.Event) error {
	for _, event := range events {
		if err := a.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying producer.
func (a *Adapter) Close() error {
	return a.producer.Close()
}
