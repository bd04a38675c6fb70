package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"gorm.io/gorm"
)

type EventRepository interface {
	Create(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	ListByStatus(ctx context.Context, status domain.EventStatus) ([]domain.Event, error)
	Update(ctx context.Context, id string, fn func(*domain.Event) error) (*domain.Event, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Create(ctx context.Context, e *domain.Event) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateCreateError(err)
	}
	*e = *eventModelToDomain(model)
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) ListByStatus(ctx context.Context, status domain.EventStatus) ([]domain.Event, error) {
	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("starts_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}

func (r *GormEventRepo) Update(ctx context.Context, id string, fn func(*domain.Event) error) (*domain.Event, error) {
	model, err := lockAndSave(ctx, r.db, id, func(m *EventModel) error {
		e := eventModelToDomain(m)
		if err := fn(e); err != nil {
			return err
		}
		next := eventModelFromDomain(e)
		next.ID = m.ID
		next.CreatedAt = m.CreatedAt
		*m = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(model), nil
}
