package syncer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{name: "remote permission", err: fmt.Errorf("%w: status 403", remotestore.ErrPermissionDenied), kind: KindPermissionDenied},
		{name: "remote unavailable", err: fmt.Errorf("%w: status 503", remotestore.ErrUnavailable), kind: KindUnavailable},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), kind: KindUnavailable},
		{name: "net error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, kind: KindUnavailable},
		{name: "not found is not special", err: remotestore.ErrDocumentNotFound, kind: KindUnknown},
		{name: "other", err: errors.New("boom"), kind: KindUnknown},
		{name: "already classified", err: &SyncError{Kind: KindPermissionDenied, Op: opPushAll, Err: errors.New("x")}, kind: KindPermissionDenied},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.kind, Classify(testCase.err))
		})
	}
}

func TestSyncErrorKeepsExistingClassification(t *testing.T) {
	original := &SyncError{Kind: KindUnavailable, Op: opPushAll, Err: errors.New("offline")}
	wrapped := newSyncError(opPullAndMerge, original)
	assert.Same(t, original, wrapped)
	assert.Nil(t, newSyncError(opPushAll, nil))
}

func TestSyncErrorMessage(t *testing.T) {
	err := &SyncError{Kind: KindUnknown, Op: opPushAll, Err: errors.New("boom")}
	assert.Equal(t, "sync push_all failed (unknown): boom", err.Error())
}
