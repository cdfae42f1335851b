package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/eventbus"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/usecase/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepository is an in-memory store for exercising the poll loop.
type fakeRepository struct {
	mu     sync.Mutex
	events map[int64]*outbox.Event
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{events: make(map[int64]*outbox.Event)}
}

func (f *fakeRepository) Save(ctx context.Context, event *outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *event
	f.events[event.ID] = &copied
	return nil
}

func (f *fakeRepository) SaveAll(ctx context.Context, events []*outbox.Event) error {
	for _, event := range events {
		if err := f.Save(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepository) FindByID(ctx context.Context, id int64) (*outbox.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok {
		return nil, nil
	}
	copied := *event
	return &copied, nil
}

func (f *fakeRepository) filter(match func(*outbox.Event) bool, page outbox.PageRequest) *outbox.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	page = page.Normalize()

	var matched []*outbox.Event
	for _, event := range f.events {
		if match(event) {
			copied := *event
			matched = append(matched, &copied)
		}
	}
	total := int64(len(matched))
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return &outbox.Page{Items: matched, Total: total, Limit: page.Limit, Offset: page.Offset}
}

func (f *fakeRepository) FindPending(ctx context.Context, page outbox.PageRequest) (*outbox.Page, error) {
	return f.filter(func(e *outbox.Event) bool { return e.Status == outbox.StatusPending }, page), nil
}

func (f *fakeRepository) FindFailedForRetry(ctx context.Context, maxRetries int, page outbox.PageRequest) (*outbox.Page, error) {
	return f.filter(func(e *outbox.Event) bool {
		return e.Status == outbox.StatusFailed && e.RetryCount < maxRetries
	}, page), nil
}

func (f *fakeRepository) FindByStatus(ctx context.Context, status outbox.EventStatus, page outbox.PageRequest) (*outbox.Page, error) {
	return f.filter(func(e *outbox.Event) bool { return e.Status == status }, page), nil
}

func (f *fakeRepository) FindByAggregateID(ctx context.Context, aggregateID int64) ([]*outbox.Event, error) {
	page := f.filter(func(e *outbox.Event) bool { return e.AggregateID == aggregateID }, outbox.PageRequest{})
	return page.Items, nil
}

func (f *fakeRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, event := range f.events {
		if event.Status == outbox.StatusProcessed && event.ProcessedAt != nil && event.ProcessedAt.Before(cutoff) {
			delete(f.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRepository) CountByStatus(ctx context.Context, status outbox.EventStatus) (int64, error) {
	page := f.filter(func(e *outbox.Event) bool { return e.Status == status }, outbox.PageRequest{})
	return page.Total, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	failWith error
	failID   int64
	count    int
}

func (f *fakePublisher) Publish(ctx context.Context, event eventbus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil && (f.failID == 0 || f.failID == event.EventID) {
		return f.failWith
	}
	f.count++
	return nil
}

func (f *fakePublisher) PublishAll(ctx context.Context, events []eventbus.Event) error {
	for _, event := range events {
		if err := f.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func seedPending(t *testing.T, repo *fakeRepository, id int64) {
	t.Helper()
	event, err := outbox.NewEvent(id, "Expense", 100, "expense.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), event))
}

func newTestDispatcher(repo outbox.Repository, publisher eventbus.Publisher, cfg Config) *Dispatcher {
	svc := dispatch.NewService(repo, publisher, zap.NewNop(), 3)
	return NewDispatcher(svc, repo, zap.NewNop(), cfg)
}

func TestPoll_ProcessesPendingEvents(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	d := newTestDispatcher(repo, publisher, Config{})

	seedPending(t, repo, 1)
	seedPending(t, repo, 2)

	require.NoError(t, d.poll(context.Background()))

	assert.Equal(t, 2, publisher.count)
	processed, err := repo.CountByStatus(context.Background(), outbox.StatusProcessed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), processed)
}

func TestPoll_FailedEventStaysFailed(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{failWith: errors.New("broker unavailable")}
	d := newTestDispatcher(repo, publisher, Config{})

	seedPending(t, repo, 1)

	require.NoError(t, d.poll(context.Background()))

	stored, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "broker unavailable", stored.Error)
}

func TestPoll_RetriesFailedEventsWithinBudget(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	d := newTestDispatcher(repo, publisher, Config{})

	event, err := outbox.NewEvent(1, "Expense", 100, "expense.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	event.MarkFailed("transient")
	require.NoError(t, repo.Save(context.Background(), event))

	require.NoError(t, d.poll(context.Background()))

	stored, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusProcessed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestPoll_SkipsDeadLetteredEvents(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	d := newTestDispatcher(repo, publisher, Config{})

	event, err := outbox.NewEvent(1, "Expense", 100, "expense.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	event.MarkFailed("1")
	event.MarkFailed("2")
	event.MarkFailed("3")
	require.NoError(t, repo.Save(context.Background(), event))

	require.NoError(t, d.poll(context.Background()))

	assert.Equal(t, 0, publisher.count)
	stored, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
}

func TestPoll_OneFailureDoesNotAbortBatch(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{failWith: errors.New("broker unavailable"), failID: 1}
	d := newTestDispatcher(repo, publisher, Config{})

	seedPending(t, repo, 1)
	seedPending(t, repo, 2)

	require.NoError(t, d.poll(context.Background()))

	failed, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, failed.Status)

	ok, err := repo.FindByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusProcessed, ok.Status)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := newFakeRepository()
	d := newTestDispatcher(repo, &fakePublisher{}, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestCleanup(t *testing.T) {
	repo := newFakeRepository()
	d := newTestDispatcher(repo, &fakePublisher{}, Config{RetentionDays: 30})

	event, err := outbox.NewEvent(1, "Expense", 100, "expense.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	event.MarkProcessed()
	old := time.Now().UTC().AddDate(0, 0, -45)
	event.ProcessedAt = &old
	require.NoError(t, repo.Save(context.Background(), event))

	deleted, err := d.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := newTestDispatcher(newFakeRepository(), &fakePublisher{}, Config{})

	assert.Equal(t, 5*time.Second, d.cfg.PollInterval)
	assert.Equal(t, time.Hour, d.cfg.CleanupInterval)
	assert.Equal(t, outbox.DefaultPageLimit, d.cfg.BatchSize)
	assert.Equal(t, 30, d.cfg.RetentionDays)
}
