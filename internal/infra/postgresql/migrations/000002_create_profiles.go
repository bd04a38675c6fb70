package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecipientsAndProfilesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_recipients_and_profiles",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientModel{}, &repository.ProfileModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_event_recipient ON engagement_profiles (event_id, recipient_id)`,
				`CREATE INDEX IF NOT EXISTS idx_profiles_recipient_registered ON engagement_profiles (recipient_id, registered_at DESC)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProfileModel{}, &repository.RecipientModel{})
		},
	}
}
