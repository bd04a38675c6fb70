package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockAndSave loads the row FOR UPDATE, lets mutate change it and saves it
// in the same transaction. An error from mutate rolls back and is returned as is.
func lockAndSave[M any](ctx context.Context, db *gorm.DB, id string, mutate func(*M) error) (*M, error) {
	var model M
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := mutate(&model); err != nil {
			return err
		}
		return tx.Save(&model).Error
	})
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func translateCreateError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}
