// Package localstore persists the device's copy of the user's vocabulary data.
package localstore

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

var (
	// ErrMissingDatabase indicates that a SQLite-backed store was built without a handle.
	ErrMissingDatabase = errors.New("localstore: database handle is required")
)

// Store is the device-side key/value persistence consumed by the sync orchestrator.
// Libraries are always written as a whole collection; the tombstone set only grows.
type Store interface {
	LoadLibraries(ctx context.Context) ([]vocabulary.Library, error)
	SaveLibraries(ctx context.Context, libraries []vocabulary.Library) error
	DeletedLibraryIDs(ctx context.Context) ([]string, error)
	AddDeletedLibraryID(ctx context.Context, libraryID string) error
	LoadPracticeProgress(ctx context.Context) (*vocabulary.Progress, error)
	SavePracticeProgress(ctx context.Context, progress vocabulary.Progress) error
}
