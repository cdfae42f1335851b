package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventModel is the database DTO with Gorm tags.
type EventModel struct {
	ID            int64  `gorm:"primaryKey"`
	AggregateType string `gorm:"type:varchar(100);not null"`
	AggregateID   int64  `gorm:"not null;index"`
	EventType     string `gorm:"type:varchar(100);not null"`
	Payload       []byte `gorm:"type:jsonb"`
	Status        string `gorm:"type:varchar(50);not null;index"`
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int    `gorm:"not null;default:0"`
	LastError     string `gorm:"type:text"`
}

func (EventModel) TableName() string {
	return "outbox_events"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Save(ctx context.Context, event *outbox.Event) error {
	model := toModel(event)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

func (r *Repository) SaveAll(ctx context.Context, events []*outbox.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]EventModel, 0, len(events))
	for _, event := range events {
		models = append(models, toModel(event))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).
			Create(&models).Error
	})
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*outbox.Event, error) {
	var model EventModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomain(model), nil
}

func (r *Repository) FindPending(ctx context.Context, page outbox.PageRequest) (*outbox.Page, error) {
	return r.findPage(ctx, page, "status = ?", string(outbox.StatusPending))
}

func (r *Repository) FindFailedForRetry(ctx context.Context, maxRetries int, page outbox.PageRequest) (*outbox.Page, error) {
	return r.findPage(ctx, page, "status = ? AND retry_count < ?", string(outbox.StatusFailed), maxRetries)
}

func (r *Repository) FindByStatus(ctx context.Context, status outbox.EventStatus, page outbox.PageRequest) (*outbox.Page, error) {
	return r.findPage(ctx, page, "status = ?", string(status))
}

func (r *Repository) findPage(ctx context.Context, page outbox.PageRequest, query string, args ...any) (*outbox.Page, error) {
	page = page.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).Model(&EventModel{}).Where(query, args...).Count(&total).Error; err != nil {
		return nil, err
	}

	var models []EventModel
	if err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at asc").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*outbox.Event, 0, len(models))
	for _, model := range models {
		items = append(items, toDomain(model))
	}

	return &outbox.Page{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

func (r *Repository) FindByAggregateID(ctx context.Context, aggregateID int64) ([]*outbox.Event, error) {
	var models []EventModel
	if err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at desc").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*outbox.Event, 0, len(models))
	for _, model := range models {
		items = append(items, toDomain(model))
	}
	return items, nil
}

func (r *Repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", string(outbox.StatusProcessed), cutoff).
		Delete(&EventModel{})
	return result.RowsAffected, result.Error
}

func (r *Repository) CountByStatus(ctx context.Context, status outbox.EventStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("status = ?", string(status)).
		Count(&count).Error
	return count, err
}

// Mappers

func toDomain(m EventModel) *outbox.Event {
	return &outbox.Event{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       json.RawMessage(m.Payload),
		Status:        outbox.EventStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		RetryCount:    m.RetryCount,
		Error:         m.LastError,
	}
}

func toModel(e *outbox.Event) EventModel {
	return EventModel{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
		Status:        string(e.Status),
		CreatedAt:     e.CreatedAt,
		ProcessedAt:   e.ProcessedAt,
		RetryCount:    e.RetryCount,
		LastError:     e.Error,
	}
}
