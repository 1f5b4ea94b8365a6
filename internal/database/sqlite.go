package database

import (
	"errors"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/localstore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/profiles"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingPath = errors.New("database path is required")

// OpenSQLite opens the cloud database and migrates the profile and document schema.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&remotestore.DocumentRecord{}, &profiles.Profile{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenDevice opens the device-local database used by the sync client.
func OpenDevice(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&localstore.Entry{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("device store initialized", zap.String("path", path))
	}

	return db, nil
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, errMissingPath
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
