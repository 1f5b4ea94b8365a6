// Package remotestore reads and replaces the per-user cloud document.
package remotestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

var (
	// ErrDocumentNotFound indicates that the user has never synced.
	ErrDocumentNotFound = errors.New("remotestore: document not found")
	// ErrPermissionDenied indicates that access control rejected the operation.
	ErrPermissionDenied = errors.New("remotestore: permission denied")
	// ErrUnavailable indicates a connectivity failure; the operation may be retried.
	ErrUnavailable = errors.New("remotestore: unavailable")
)

// Store holds one document per user that is always fetched and replaced wholesale.
type Store interface {
	// Fetch returns ErrDocumentNotFound when the user has no document yet.
	Fetch(ctx context.Context, userID vocabulary.UserID) (vocabulary.Document, error)
	// Replace overwrites the user's document and returns it as stored.
	Replace(ctx context.Context, userID vocabulary.UserID, snapshot vocabulary.Snapshot) (vocabulary.Document, error)
}

// ServiceError carries a stable `operation.reason` code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func normalizeSnapshot(snapshot vocabulary.Snapshot) vocabulary.Snapshot {
	normalized := vocabulary.Snapshot{
		Libraries:         vocabulary.CloneLibraries(snapshot.Libraries),
		DeletedLibraryIDs: append([]string{}, snapshot.DeletedLibraryIDs...),
		PracticeProgress:  snapshot.PracticeProgress.Clone(),
		UpdatedAt:         snapshot.UpdatedAt,
	}
	if normalized.Libraries == nil {
		normalized.Libraries = []vocabulary.Library{}
	}
	for index := range normalized.Libraries {
		if normalized.Libraries[index].Items == nil {
			normalized.Libraries[index].Items = []vocabulary.Item{}
		}
	}
	return normalized
}
