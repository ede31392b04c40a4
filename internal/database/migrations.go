package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSeoColumn = "2026-07-14_backfill_seo_column"

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
		{name: migrationBackfillSeoColumn, apply: backfillSeoColumn},
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

// Rows created before the SEO section existed carry an empty seo_json; give
// them the empty-object default so decoding never sees a blank column.
func backfillSeoColumn(db *gorm.DB) error {
	return db.Model(&portfolio.Portfolio{}).
		Where("seo_json = ''").
		Update("seo_json", "{}").Error
}
