package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillCreatedAt = "2026-09-14_backfill_note_created_at"
	migrationBackfillUpdatedAt = "2026-09-14_backfill_note_updated_at"
)

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
		{name: migrationBackfillCreatedAt, apply: backfillCreatedAt},
		{name: migrationBackfillUpdatedAt, apply: backfillUpdatedAt},
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

// backfillCreatedAt gives rows imported without a creation time their last update time.
func backfillCreatedAt(db *gorm.DB) error {
	return db.Table(notes.NotesTable).
		Where("created_at_ms = 0 AND updated_at_ms <> 0").
		Update("created_at_ms", gorm.Expr("updated_at_ms")).Error
}

func backfillUpdatedAt(db *gorm.DB) error {
	return db.Table(notes.NotesTable).
		Where("updated_at_ms = 0").
		Update("updated_at_ms", gorm.Expr("created_at_ms")).Error
}
