package database

import (
	"errors"
	"time"

	"github.com/lumenlearn/coursesync/internal/progress"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClampOverallProgress = "2026-06-18_clamp_overall_progress"

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
		{name: migrationClampOverallProgress, apply: clampOverallProgress},
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

// clampOverallProgress repairs out-of-range percentages written by external
// writers that share the database file.
func clampOverallProgress(db *gorm.DB) error {
	return db.Model(&progress.CourseProgress{}).
		Where("overall_progress > 100").
		Update("overall_progress", 100).Error
}
