package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"gorm.io/gorm"
)

func createScheduleEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_schedule_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduleEntryModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_schedule_entries_due ON schedule_entries (scheduled_at) WHERE status = 'SCHEDULED'`,
				`CREATE INDEX IF NOT EXISTS idx_schedule_entries_event ON schedule_entries (event_id)`,
				`CREATE INDEX IF NOT EXISTS idx_schedule_entries_profile ON schedule_entries (profile_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_schedule_entries_provider_msg ON schedule_entries (provider_message_id) WHERE provider_message_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ScheduleEntryModel{})
		},
	}
}
