package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultCacheKeys = 10000
	queryUserID      = "user_id = ?"

	opDocumentKey     = "profiles.document_key"
	reasonTouchFailed = "last_seen_update_failed"
)

var (
	// ErrProfileDisabled indicates that the profile may no longer access its document.
	ErrProfileDisabled = errors.New("profiles: profile disabled")
	// ErrProfileNotFound indicates that no profile exists for the user.
	ErrProfileNotFound = errors.New("profiles: profile not found")

	errMissingDatabase = errors.New("profiles: database connection required")
)

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	// CacheMaxKeys bounds the number of cached user to document key mappings.
	CacheMaxKeys int64
}

// Service resolves the document key of a user, creating the profile on first access.
type Service struct {
	db     *gorm.DB
	ids    IDProvider
	now    func() time.Time
	logger *zap.Logger
	cache  *ristretto.Cache[string, string]
}

// NewService constructs the profile service. The schema must already be migrated.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxKeys := cfg.CacheMaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultCacheKeys
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters:        maxKeys * 10,
		MaxCost:            maxKeys,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("profiles: create cache: %w", err)
	}
	return &Service{
		db:     cfg.Database,
		ids:    ids,
		now:    clock,
		logger: logger,
		cache:  cache,
	}, nil
}

// Close releases the cache.
func (s *Service) Close() {
	s.cache.Close()
}

// DocumentKey returns the document key of userID, creating its profile when absent.
// Disabled profiles yield ErrProfileDisabled.
func (s *Service) DocumentKey(ctx context.Context, userID vocabulary.UserID) (string, error) {
	if cached, found := s.cache.Get(userID.String()); found {
		return cached, nil
	}

	profile, err := s.ensure(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.Disabled {
		return "", ErrProfileDisabled
	}

	err = s.db.WithContext(ctx).
		Model(&Profile{}).
		Where(queryUserID, profile.UserID).
		Update("last_seen_at", s.now().UTC()).
		Error
	if err != nil {
		s.logWarning(opDocumentKey, reasonTouchFailed, err, zap.String("user_id", profile.UserID))
	}

	s.cache.Set(profile.UserID, profile.DocumentKey, 1)
	s.cache.Wait()
	return profile.DocumentKey, nil
}

// Get returns the stored profile of userID.
func (s *Service) Get(ctx context.Context, userID vocabulary.UserID) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where(queryUserID, userID.String()).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// SetDisabled toggles document access for userID.
func (s *Service) SetDisabled(ctx context.Context, userID vocabulary.UserID, disabled bool) error {
	result := s.db.WithContext(ctx).
		Model(&Profile{}).
		Where(queryUserID, userID.String()).
		Update("disabled", disabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	s.cache.Del(userID.String())
	s.cache.Wait()
	s.logger.Info("profile access changed",
		zap.String("user_id", userID.String()),
		zap.Bool("disabled", disabled),
	)
	return nil
}

func (s *Service) ensure(ctx context.Context, userID vocabulary.UserID) (Profile, error) {
	profile, err := s.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return Profile{}, err
	}

	documentKey, err := s.ids.NewID()
	if err != nil {
		return Profile{}, fmt.Errorf("profiles: issue document key: %w", err)
	}
	now := s.now().UTC()
	candidate := Profile{
		UserID:      userID.String(),
		DocumentKey: documentKey,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&candidate).
		Error
	if err != nil {
		return Profile{}, err
	}
	s.logger.Info("profile created", zap.String("user_id", candidate.UserID))
	return s.Get(ctx, userID)
}

func (s *Service) logWarning(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Warn("profile service warning", attrs...)
}
