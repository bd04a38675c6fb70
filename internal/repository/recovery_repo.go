package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.AbandonedSession) error
	GetByID(ctx context.Context, id string) (*domain.AbandonedSession, error)
	// GetByAttemptMessageID finds the session owning a recovery attempt sent with messageID.
	GetByAttemptMessageID(ctx context.Context, messageID string) (*domain.AbandonedSession, error)
	Update(ctx context.Context, id string, fn func(*domain.AbandonedSession) error) (*domain.AbandonedSession, error)
}

type JobRepository interface {
	CreateBatch(ctx context.Context, jobs []*domain.RecoveryJob) error
	// ListDue returns PENDING jobs with DueAt <= now, earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RecoveryJob, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.RecoveryJob, error)
	Update(ctx context.Context, id string, fn func(*domain.RecoveryJob) error) (*domain.RecoveryJob, error)
}

type GormSessionRepo struct {
	db *gorm.DB
}

func NewGormSessionRepo(db *gorm.DB) *GormSessionRepo {
	return &GormSessionRepo{db: db}
}

func (r *GormSessionRepo) Create(ctx context.Context, s *domain.AbandonedSession) error {
	model := sessionModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateCreateError(err)
	}
	*s = *sessionModelToDomain(model)
	return nil
}

func (r *GormSessionRepo) GetByID(ctx context.Context, id string) (*domain.AbandonedSession, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormSessionRepo) GetByAttemptMessageID(ctx context.Context, messageID string) (*domain.AbandonedSession, error) {
	containment, err := json.Marshal([]map[string]string{{"ProviderMessageID": messageID}})
	if err != nil {
		return nil, err
	}
	return r.first(r.db.WithContext(ctx).Where("attempts @> ?::jsonb", string(containment)))
}

func (r *GormSessionRepo) first(query *gorm.DB) (*domain.AbandonedSession, error) {
	var model AbandonedSessionModel
	err := query.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sessionModelToDomain(&model), nil
}

func (r *GormSessionRepo) Update(ctx context.Context, id string, fn func(*domain.AbandonedSession) error) (*domain.AbandonedSession, error) {
	model, err := lockAndSave(ctx, r.db, id, func(m *AbandonedSessionModel) error {
		s := sessionModelToDomain(m)
		if err := fn(s); err != nil {
			return err
		}
		next := sessionModelFromDomain(s)
		next.ID = m.ID
		next.CreatedAt = m.CreatedAt
		*m = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessionModelToDomain(model), nil
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) CreateBatch(ctx context.Context, jobs []*domain.RecoveryJob) error {
	models := make([]RecoveryJobModel, 0, len(jobs))
	for _, j := range jobs {
		if model := jobModelFromDomain(j); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&models, 100).Error
}

func (r *GormJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RecoveryJob, error) {
	var models []RecoveryJobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_at <= ?", domain.JobPending, now).
		Order("due_at ASC, rung ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobModelsToDomain(models), nil
}

func (r *GormJobRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.RecoveryJob, error) {
	var models []RecoveryJobModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("rung ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobModelsToDomain(models), nil
}

func (r *GormJobRepo) Update(ctx context.Context, id string, fn func(*domain.RecoveryJob) error) (*domain.RecoveryJob, error) {
	model, err := lockAndSave(ctx, r.db, id, func(m *RecoveryJobModel) error {
		j := jobModelToDomain(m)
		if err := fn(j); err != nil {
			return err
		}
		next := jobModelFromDomain(j)
		next.ID = m.ID
		next.CreatedAt = m.CreatedAt
		*m = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(model), nil
}

func jobModelsToDomain(models []RecoveryJobModel) []domain.RecoveryJob {
	jobs := make([]domain.RecoveryJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}
	return jobs
}
