package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLastMessageAt = "2026-07-14_backfill_conversation_last_message_at"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLastMessageAt, apply: backfillLastMessageAt},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Conversations imported from before the recency column existed carry a zero
// last_message_at, which would sort them incorrectly and confuse duplicate
// reconciliation. Seed it from the newest message, falling back to creation
// time for empty conversations.
func backfillLastMessageAt(db *gorm.DB) error {
	if err := db.Exec(`
		UPDATE conversations SET last_message_at = (
			SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = conversations.id
		)
		WHERE last_message_at IS NULL OR last_message_at = ''
	`).Error; err != nil {
		return err
	}
	return db.Exec(`
		UPDATE conversations SET last_message_at = created_at
		WHERE last_message_at IS NULL OR last_message_at = ''
	`).Error
}
