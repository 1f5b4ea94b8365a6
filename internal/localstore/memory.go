package localstore

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

// MemoryStore is a Store kept entirely in memory.
type MemoryStore struct {
	mu         sync.Mutex
	libraries  []vocabulary.Library
	tombstones []string
	progress   *vocabulary.Progress
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		libraries:  []vocabulary.Library{},
		tombstones: []string{},
	}
}

func (store *MemoryStore) LoadLibraries(context.Context) ([]vocabulary.Library, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return vocabulary.CloneLibraries(store.libraries), nil
}

func (store *MemoryStore) SaveLibraries(_ context.Context, libraries []vocabulary.Library) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if libraries == nil {
		libraries = []vocabulary.Library{}
	}
	store.libraries = vocabulary.CloneLibraries(libraries)
	return nil
}

func (store *MemoryStore) DeletedLibraryIDs(context.Context) ([]string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]string{}, store.tombstones...), nil
}

func (store *MemoryStore) AddDeletedLibraryID(_ context.Context, libraryID string) error {
	validID, err := vocabulary.NewLibraryID(libraryID)
	if err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.tombstones {
		if existing == validID {
			return nil
		}
	}
	store.tombstones = append(store.tombstones, validID)
	return nil
}

func (store *MemoryStore) LoadPracticeProgress(context.Context) (*vocabulary.Progress, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.progress.Clone(), nil
}

func (store *MemoryStore) SavePracticeProgress(_ context.Context, progress vocabulary.Progress) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.progress = &progress
	return nil
}
