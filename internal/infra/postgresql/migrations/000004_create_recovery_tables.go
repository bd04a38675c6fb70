package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecoveryTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_recovery_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AbandonedSessionModel{}, &repository.RecoveryJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_abandoned_sessions_recipient ON abandoned_sessions (recipient_id)`,
				`CREATE INDEX IF NOT EXISTS idx_abandoned_sessions_attempts ON abandoned_sessions USING GIN (attempts jsonb_path_ops)`,
				`CREATE INDEX IF NOT EXISTS idx_recovery_jobs_due ON recovery_jobs (due_at) WHERE status = 'PENDING'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_recovery_jobs_session_rung ON recovery_jobs (session_id, rung)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecoveryJobModel{}, &repository.AbandonedSessionModel{})
		},
	}
}
