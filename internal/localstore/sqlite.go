package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	keyLibraries         = "libraries"
	keyDeletedLibraryIDs = "deleted_library_ids"
	keyPracticeProgress  = "practice_progress"
	queryKey             = "entry_key = ?"
)

// Entry is a single key/value row of the device store.
type Entry struct {
	Key              string         `gorm:"column:entry_key;primaryKey;size:64;not null"`
	Value            datatypes.JSON `gorm:"column:entry_value;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "local_entries"
}

// SQLiteStoreConfig describes the dependencies of a SQLiteStore.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore keeps libraries, tombstones and practice progress as JSON values in a
// single key/value table.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore constructs a SQLiteStore. The schema must already be migrated.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// LoadLibraries returns the stored libraries, or an empty slice when none were saved.
func (store *SQLiteStore) LoadLibraries(ctx context.Context) ([]vocabulary.Library, error) {
	raw, found, err := store.read(ctx, store.db, keyLibraries)
	if err != nil || !found {
		return []vocabulary.Library{}, err
	}
	return vocabulary.DecodeLibraries(json.RawMessage(raw)), nil
}

// SaveLibraries replaces the stored library collection.
func (store *SQLiteStore) SaveLibraries(ctx context.Context, libraries []vocabulary.Library) error {
	if libraries == nil {
		libraries = []vocabulary.Library{}
	}
	return store.write(ctx, store.db, keyLibraries, libraries)
}

// DeletedLibraryIDs returns the recorded tombstones in the order they were added.
func (store *SQLiteStore) DeletedLibraryIDs(ctx context.Context) ([]string, error) {
	raw, found, err := store.read(ctx, store.db, keyDeletedLibraryIDs)
	if err != nil || !found {
		return []string{}, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		store.logger.Warn("discarding unreadable tombstone set", zap.Error(err))
		return []string{}, nil
	}
	return ids, nil
}

// AddDeletedLibraryID records a tombstone. Adding an existing id is a no-op.
func (store *SQLiteStore) AddDeletedLibraryID(ctx context.Context, libraryID string) error {
	validID, err := vocabulary.NewLibraryID(libraryID)
	if err != nil {
		return err
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		raw, found, err := store.read(ctx, transaction, keyDeletedLibraryIDs)
		if err != nil {
			return err
		}
		ids := []string{}
		if found {
			if err := json.Unmarshal(raw, &ids); err != nil {
				ids = []string{}
			}
		}
		for _, existing := range ids {
			if existing == validID {
				return nil
			}
		}
		ids = append(ids, validID)
		return store.write(ctx, transaction, keyDeletedLibraryIDs, ids)
	})
}

// LoadPracticeProgress returns the stored practice snapshot or nil.
func (store *SQLiteStore) LoadPracticeProgress(ctx context.Context) (*vocabulary.Progress, error) {
	raw, found, err := store.read(ctx, store.db, keyPracticeProgress)
	if err != nil || !found {
		return nil, err
	}
	var progress vocabulary.Progress
	if err := json.Unmarshal(raw, &progress); err != nil {
		store.logger.Warn("discarding unreadable practice progress", zap.Error(err))
		return nil, nil
	}
	return &progress, nil
}

// SavePracticeProgress replaces the stored practice snapshot.
func (store *SQLiteStore) SavePracticeProgress(ctx context.Context, progress vocabulary.Progress) error {
	return store.write(ctx, store.db, keyPracticeProgress, progress)
}

func (store *SQLiteStore) read(ctx context.Context, database *gorm.DB, key string) ([]byte, bool, error) {
	var entry Entry
	err := database.WithContext(ctx).Where(queryKey, key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("localstore: read %s: %w", key, err)
	}
	return []byte(entry.Value), true, nil
}

func (store *SQLiteStore) write(ctx context.Context, database *gorm.DB, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localstore: encode %s: %w", key, err)
	}
	entry := Entry{
		Key:              key,
		Value:            datatypes.JSON(encoded),
		UpdatedAtSeconds: store.clock().UTC().Unix(),
	}
	err = database.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_s"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("localstore: write %s: %w", key, err)
	}
	return nil
}
