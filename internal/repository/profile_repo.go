package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RecipientRepository interface {
	Save(ctx context.Context, r *domain.Recipient) error
	GetByID(ctx context.Context, id string) (*domain.Recipient, error)
}

type ProfileRepository interface {
	Create(ctx context.Context, p *domain.EngagementProfile) error
	GetByID(ctx context.Context, id string) (*domain.EngagementProfile, error)
	GetByEventAndRecipient(ctx context.Context, eventID, recipientID string) (*domain.EngagementProfile, error)
	// LatestByRecipient returns the most recently registered profile of a recipient across events.
	LatestByRecipient(ctx context.Context, recipientID string) (*domain.EngagementProfile, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.EngagementProfile, error)
	Update(ctx context.Context, id string, fn func(*domain.EngagementProfile) error) (*domain.EngagementProfile, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) Save(ctx context.Context, recipient *domain.Recipient) error {
	model := recipientModelFromDomain(recipient)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(model).Error
}

func (r *GormRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

type GormProfileRepo struct {
	db *gorm.DB
}

func NewGormProfileRepo(db *gorm.DB) *GormProfileRepo {
	return &GormProfileRepo{db: db}
}

func (r *GormProfileRepo) Create(ctx context.Context, p *domain.EngagementProfile) error {
	model := profileModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateCreateError(err)
	}
	*p = *profileModelToDomain(model)
	return nil
}

func (r *GormProfileRepo) GetByID(ctx context.Context, id string) (*domain.EngagementProfile, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormProfileRepo) GetByEventAndRecipient(ctx context.Context, eventID, recipientID string) (*domain.EngagementProfile, error) {
	return r.first(r.db.WithContext(ctx).Where("event_id = ? AND recipient_id = ?", eventID, recipientID))
}

func (r *GormProfileRepo) LatestByRecipient(ctx context.Context, recipientID string) (*domain.EngagementProfile, error) {
	return r.first(r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("registered_at DESC"))
}

func (r *GormProfileRepo) first(query *gorm.DB) (*domain.EngagementProfile, error) {
	var model ProfileModel
	err := query.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return profileModelToDomain(&model), nil
}

func (r *GormProfileRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.EngagementProfile, error) {
	var models []ProfileModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("registered_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	profiles := make([]domain.EngagementProfile, 0, len(models))
	for i := range models {
		profiles = append(profiles, *profileModelToDomain(&models[i]))
	}
	return profiles, nil
}

func (r *GormProfileRepo) Update(ctx context.Context, id string, fn func(*domain.EngagementProfile) error) (*domain.EngagementProfile, error) {
	model, err := lockAndSave(ctx, r.db, id, func(m *ProfileModel) error {
		p := profileModelToDomain(m)
		if err := fn(p); err != nil {
			return err
		}
		next := profileModelFromDomain(p)
		next.ID = m.ID
		*m = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profileModelToDomain(model), nil
}
