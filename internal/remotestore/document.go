package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opDocumentStoreNew = "remotestore.document_store.new"
	opFetch            = "remotestore.fetch"
	opReplace          = "remotestore.replace"

	fieldUserID      = "user_id"
	fieldDocumentKey = "document_key"
	queryDocumentKey = fieldDocumentKey + " = ?"

	reasonMissingDatabase   = "missing_database"
	reasonResolveKeyFailed  = "resolve_key_failed"
	reasonQueryFailed       = "query_failed"
	reasonDecodeFailed      = "decode_failed"
	reasonEncodeFailed      = "encode_failed"
	reasonDocumentUpsertErr = "document_upsert_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// DocumentRecord stores one user's document body. ClientUpdatedAtMillis mirrors the
// body's updatedAt and stands in for it when the body carries none.
type DocumentRecord struct {
	DocumentKey           string         `gorm:"column:document_key;primaryKey;size:190;not null"`
	Body                  datatypes.JSON `gorm:"column:body;not null"`
	ClientUpdatedAtMillis int64          `gorm:"column:client_updated_at_ms;not null;default:0"`
	ServerTimestampMillis int64          `gorm:"column:server_ts_ms;not null;index:idx_documents_server_ts"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentRecord) TableName() string {
	return "profile_documents"
}

// KeyResolver maps a user to the stable key its document is stored under.
type KeyResolver interface {
	DocumentKey(ctx context.Context, userID vocabulary.UserID) (string, error)
}

type identityResolver struct{}

func (identityResolver) DocumentKey(_ context.Context, userID vocabulary.UserID) (string, error) {
	return userID.String(), nil
}

// DocumentStoreConfig describes the dependencies of a DocumentStore.
type DocumentStoreConfig struct {
	Database *gorm.DB
	Keys     KeyResolver
	Clock    func() time.Time
	Logger   *zap.Logger
}

// DocumentStore is the server-side Store backed by a SQL table. Every write stamps the
// document with a server-assigned timestamp.
type DocumentStore struct {
	db     *gorm.DB
	keys   KeyResolver
	clock  func() time.Time
	logger *zap.Logger
}

// NewDocumentStore constructs a DocumentStore. Without a KeyResolver documents are
// stored under the user id itself.
func NewDocumentStore(cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opDocumentStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	keys := cfg.Keys
	if keys == nil {
		keys = identityResolver{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &DocumentStore{db: cfg.Database, keys: keys, clock: clock, logger: logger}, nil
}

// Fetch implements Store. A body without a usable updatedAt reports the
// client_updated_at_ms column instead.
func (store *DocumentStore) Fetch(ctx context.Context, userID vocabulary.UserID) (vocabulary.Document, error) {
	if store.db == nil {
		store.logError(opFetch, reasonMissingDatabase, errMissingDatabase)
		return vocabulary.Document{}, newServiceError(opFetch, reasonMissingDatabase, errMissingDatabase)
	}
	documentKey, err := store.keys.DocumentKey(ctx, userID)
	if err != nil {
		store.logError(opFetch, reasonResolveKeyFailed, err, zap.String(fieldUserID, userID.String()))
		return vocabulary.Document{}, newServiceError(opFetch, reasonResolveKeyFailed, err)
	}

	var record DocumentRecord
	err = store.db.WithContext(ctx).Where(queryDocumentKey, documentKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vocabulary.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		store.logError(opFetch, reasonQueryFailed, err, zap.String(fieldDocumentKey, documentKey))
		return vocabulary.Document{}, newServiceError(opFetch, reasonQueryFailed, err)
	}

	document, err := vocabulary.DecodeDocument(record.Body)
	if err != nil {
		store.logError(opFetch, reasonDecodeFailed, err, zap.String(fieldDocumentKey, documentKey))
		return vocabulary.Document{}, newServiceError(opFetch, reasonDecodeFailed, err)
	}
	if document.UpdatedAt == 0 {
		document.UpdatedAt = record.ClientUpdatedAtMillis
	}
	document.ServerTimestamp = record.ServerTimestampMillis
	return document, nil
}

// Replace implements Store.
func (store *DocumentStore) Replace(ctx context.Context, userID vocabulary.UserID, snapshot vocabulary.Snapshot) (vocabulary.Document, error) {
	if store.db == nil {
		store.logError(opReplace, reasonMissingDatabase, errMissingDatabase)
		return vocabulary.Document{}, newServiceError(opReplace, reasonMissingDatabase, errMissingDatabase)
	}
	documentKey, err := store.keys.DocumentKey(ctx, userID)
	if err != nil {
		store.logError(opReplace, reasonResolveKeyFailed, err, zap.String(fieldUserID, userID.String()))
		return vocabulary.Document{}, newServiceError(opReplace, reasonResolveKeyFailed, err)
	}

	normalized := normalizeSnapshot(snapshot)
	body, err := json.Marshal(normalized)
	if err != nil {
		store.logError(opReplace, reasonEncodeFailed, err, zap.String(fieldDocumentKey, documentKey))
		return vocabulary.Document{}, newServiceError(opReplace, reasonEncodeFailed, err)
	}

	serverTimestamp := store.clock().UTC().UnixMilli()
	record := DocumentRecord{
		DocumentKey:           documentKey,
		Body:                  datatypes.JSON(body),
		ClientUpdatedAtMillis: normalized.UpdatedAt,
		ServerTimestampMillis: serverTimestamp,
	}
	err = store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: fieldDocumentKey}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "client_updated_at_ms", "server_ts_ms"}),
	}).Create(&record).Error
	if err != nil {
		store.logError(opReplace, reasonDocumentUpsertErr, err, zap.String(fieldDocumentKey, documentKey))
		return vocabulary.Document{}, newServiceError(opReplace, reasonDocumentUpsertErr, err)
	}

	return vocabulary.Document{Snapshot: normalized, ServerTimestamp: serverTimestamp}, nil
}

func (store *DocumentStore) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if store != nil && store.logger != nil {
		logger = store.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("document store error", attrs...)
}
