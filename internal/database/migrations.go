package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillClientUpdatedAt = "2026-10-01_backfill_client_updated_at"

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
		{name: migrationBackfillClientUpdatedAt, apply: backfillClientUpdatedAt},
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

// Documents written before the client timestamp column existed fall back to the server stamp.
func backfillClientUpdatedAt(db *gorm.DB) error {
	return db.Model(&remotestore.DocumentRecord{}).
		Where("client_updated_at_ms = 0").
		Update("client_updated_at_ms", gorm.Expr("server_ts_ms")).Error
}
