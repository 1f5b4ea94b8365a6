package remotestore

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

// MemoryStore is a Store kept in memory, keyed by user id.
type MemoryStore struct {
	mu        sync.Mutex
	clock     func() time.Time
	documents map[vocabulary.UserID]vocabulary.Document
	writes    map[vocabulary.UserID]int
}

// NewMemoryStore returns an empty MemoryStore. A nil clock selects time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		clock:     clock,
		documents: make(map[vocabulary.UserID]vocabulary.Document),
		writes:    make(map[vocabulary.UserID]int),
	}
}

// Fetch implements Store.
func (store *MemoryStore) Fetch(_ context.Context, userID vocabulary.UserID) (vocabulary.Document, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	document, found := store.documents[userID]
	if !found {
		return vocabulary.Document{}, ErrDocumentNotFound
	}
	return vocabulary.Document{Snapshot: normalizeSnapshot(document.Snapshot), ServerTimestamp: document.ServerTimestamp}, nil
}

// Replace implements Store.
func (store *MemoryStore) Replace(_ context.Context, userID vocabulary.UserID, snapshot vocabulary.Snapshot) (vocabulary.Document, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	document := vocabulary.Document{
		Snapshot:        normalizeSnapshot(snapshot),
		ServerTimestamp: store.clock().UTC().UnixMilli(),
	}
	store.documents[userID] = document
	store.writes[userID]++
	return vocabulary.Document{Snapshot: normalizeSnapshot(document.Snapshot), ServerTimestamp: document.ServerTimestamp}, nil
}

// Writes returns how many times the user's document was replaced.
func (store *MemoryStore) Writes(userID vocabulary.UserID) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.writes[userID]
}
