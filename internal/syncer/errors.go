package syncer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
)

// ErrorKind classifies a failed sync operation.
type ErrorKind string

const (
	// KindPermissionDenied means access control rejected the operation; retrying will not help.
	KindPermissionDenied ErrorKind = "permission-denied"
	// KindUnavailable means the remote could not be reached; the operation may be retried.
	KindUnavailable ErrorKind = "unavailable"
	// KindUnknown wraps every other failure.
	KindUnknown ErrorKind = "unknown"
)

var (
	// ErrPermissionDenied matches, via errors.Is, any SyncError of kind permission-denied.
	ErrPermissionDenied = errors.New("syncer: permission denied")
	// ErrUnavailable matches, via errors.Is, any SyncError of kind unavailable.
	ErrUnavailable = errors.New("syncer: unavailable")
)

// SyncError is the typed failure returned by every orchestrator operation.
type SyncError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for the error's kind.
func (e *SyncError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == KindPermissionDenied
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	default:
		return false
	}
}

// Classify maps an arbitrary failure onto an ErrorKind.
func Classify(err error) ErrorKind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	if errors.Is(err, remotestore.ErrPermissionDenied) {
		return KindPermissionDenied
	}
	if errors.Is(err, remotestore.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return KindUnknown
}

func newSyncError(op string, err error) error {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return &SyncError{Kind: Classify(err), Op: op, Err: err}
}
