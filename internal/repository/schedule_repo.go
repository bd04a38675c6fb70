package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ScheduleRepository interface {
	// CreateBatch inserts entries whose id is not stored yet and returns how many were new.
	CreateBatch(ctx context.Context, entries []*domain.ScheduleEntry) (int, error)
	GetByID(ctx context.Context, id string) (*domain.ScheduleEntry, error)
	GetByProviderMessageID(ctx context.Context, messageID string) (*domain.ScheduleEntry, error)
	// ListDue returns SCHEDULED entries of the given events with ScheduledAt <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, eventIDs []string, limit int) ([]domain.ScheduleEntry, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.ScheduleEntry, error)
	ListByProfile(ctx context.Context, profileID string) ([]domain.ScheduleEntry, error)
	Update(ctx context.Context, id string, fn func(*domain.ScheduleEntry) error) (*domain.ScheduleEntry, error)
}

type GormScheduleRepo struct {
	db *gorm.DB
}

func NewGormScheduleRepo(db *gorm.DB) *GormScheduleRepo {
	return &GormScheduleRepo{db: db}
}

func (r *GormScheduleRepo) CreateBatch(ctx context.Context, entries []*domain.ScheduleEntry) (int, error) {
	models := make([]ScheduleEntryModel, 0, len(entries))
	for _, e := range entries {
		if model := entryModelFromDomain(e); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *GormScheduleRepo) GetByID(ctx context.Context, id string) (*domain.ScheduleEntry, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormScheduleRepo) GetByProviderMessageID(ctx context.Context, messageID string) (*domain.ScheduleEntry, error) {
	return r.first(r.db.WithContext(ctx).Where("provider_message_id = ?", messageID))
}

func (r *GormScheduleRepo) first(query *gorm.DB) (*domain.ScheduleEntry, error) {
	var model ScheduleEntryModel
	err := query.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entryModelToDomain(&model), nil
}

func (r *GormScheduleRepo) ListDue(ctx context.Context, now time.Time, eventIDs []string, limit int) ([]domain.ScheduleEntry, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	var models []ScheduleEntryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ? AND event_id IN ?", domain.StatusScheduled, now, eventIDs).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return entryModelsToDomain(models), nil
}

func (r *GormScheduleRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.ScheduleEntry, error) {
	var models []ScheduleEntryModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("scheduled_at ASC, template_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return entryModelsToDomain(models), nil
}

func (r *GormScheduleRepo) ListByProfile(ctx context.Context, profileID string) ([]domain.ScheduleEntry, error) {
	var models []ScheduleEntryModel
	err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("scheduled_at ASC, template_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return entryModelsToDomain(models), nil
}

func (r *GormScheduleRepo) Update(ctx context.Context, id string, fn func(*domain.ScheduleEntry) error) (*domain.ScheduleEntry, error) {
	model, err := lockAndSave(ctx, r.db, id, func(m *ScheduleEntryModel) error {
		e := entryModelToDomain(m)
		if err := fn(e); err != nil {
			return err
		}
		next := entryModelFromDomain(e)
		next.ID = m.ID
		next.CreatedAt = m.CreatedAt
		*m = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entryModelToDomain(model), nil
}

func entryModelsToDomain(models []ScheduleEntryModel) []domain.ScheduleEntry {
	entries := make([]domain.ScheduleEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *entryModelToDomain(&models[i]))
	}
	return entries
}
