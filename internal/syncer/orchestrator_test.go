package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/localstore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/merge"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testUser    = vocabulary.UserID("user-1")
	fixedMillis = int64(1700000000000)
)

func fixedClock() time.Time {
	return time.UnixMilli(fixedMillis)
}

type harness struct {
	local     *faultyLocal
	remote    *faultyRemote
	scheduler *manualScheduler
	logs      *observer.ObservedLogs
	sync      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		local:     &faultyLocal{MemoryStore: localstore.NewMemoryStore()},
		remote:    &faultyRemote{MemoryStore: remotestore.NewMemoryStore(fixedClock)},
		scheduler: newManualScheduler(),
		logs:      logs,
	}
	orchestrator, err := New(Config{
		Local:     h.local,
		Remote:    h.remote,
		Scheduler: h.scheduler,
		Clock:     fixedClock,
		Logger:    zap.New(core),
	})
	require.NoError(t, err)
	h.sync = orchestrator
	return h
}

func library(id, name string, createdAt, updatedAt int64, items ...vocabulary.Item) vocabulary.Library {
	if items == nil {
		items = []vocabulary.Item{}
	}
	return vocabulary.Library{ID: id, Name: name, Items: items, CreatedAt: createdAt, UpdatedAt: vocabulary.Int64Pointer(updatedAt)}
}

func seedLocal(t *testing.T, h *harness, libraries []vocabulary.Library, tombstones []string, progress *vocabulary.Progress) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.local.MemoryStore.SaveLibraries(ctx, libraries))
	for _, id := range tombstones {
		require.NoError(t, h.local.AddDeletedLibraryID(ctx, id))
	}
	if progress != nil {
		require.NoError(t, h.local.MemoryStore.SavePracticeProgress(ctx, *progress))
	}
}

func seedRemote(t *testing.T, h *harness, snapshot vocabulary.Snapshot) {
	t.Helper()
	_, err := h.remote.MemoryStore.Replace(context.Background(), testUser, snapshot)
	require.NoError(t, err)
}

func endToEndFixture(t *testing.T, h *harness) {
	t.Helper()
	item := vocabulary.Item{ID: "i1", TextNative: "dog", TextTarget: "Hund", Kind: vocabulary.ItemKindWord, CreatedAt: 1}
	seedLocal(t, h, []vocabulary.Library{library("a", "Local A", 1, 10, item)}, nil, nil)
	seedRemote(t, h, vocabulary.Snapshot{
		Libraries: []vocabulary.Library{
			library("a", "Remote A", 1, 5),
			library("b", "Remote B", 1, 1),
		},
		DeletedLibraryIDs: []string{"b"},
		UpdatedAt:         5,
	})
}

func TestPullAndMergeEndToEndScenario(t *testing.T) {
	h := newHarness(t)
	endToEndFixture(t, h)

	uploaded, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.NoError(t, err)

	encoded, err := json.MarshalIndent(uploaded, "", "  ")
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "end_to_end_scenario", encoded)

	remote, err := h.remote.Fetch(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, uploaded, remote.Snapshot)

	localLibraries, err := h.local.LoadLibraries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uploaded.Libraries, localLibraries)

	localTombstones, err := h.local.DeletedLibraryIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, localTombstones)
}

func TestPullAndMergeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	endToEndFixture(t, h)
	ctx := context.Background()

	first, err := h.sync.PullAndMerge(ctx, testUser)
	require.NoError(t, err)
	second, err := h.sync.PullAndMerge(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, h.remote.Writes(testUser))
}

func TestPullAndMergeFirstSyncUploadsLocalSnapshot(t *testing.T) {
	h := newHarness(t)
	progress := &vocabulary.Progress{LibraryID: "a", Position: 4, Timestamp: 99}
	localLibraries := []vocabulary.Library{library("a", "Animals", 1, 2), library("c", "Colors", 3, 3)}
	seedLocal(t, h, localLibraries, []string{"z"}, progress)

	uploaded, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.NoError(t, err)

	expected := vocabulary.Snapshot{
		Libraries:         localLibraries,
		DeletedLibraryIDs: []string{"z"},
		PracticeProgress:  progress,
		UpdatedAt:         fixedMillis,
	}
	assert.Equal(t, expected, uploaded)

	remote, err := h.remote.Fetch(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, expected, remote.Snapshot)
	assert.Equal(t, 1, h.remote.Writes(testUser))
}

func TestPullAndMergeTombstonesOnlyGrowLocally(t *testing.T) {
	h := newHarness(t)
	seedLocal(t, h, []vocabulary.Library{library("a", "A", 1, 1)}, []string{"x"}, nil)
	seedRemote(t, h, vocabulary.Snapshot{
		Libraries:         []vocabulary.Library{library("a", "A", 1, 1)},
		DeletedLibraryIDs: []string{"y", "x"},
	})

	uploaded, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, uploaded.DeletedLibraryIDs)

	tombstones, err := h.local.DeletedLibraryIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, tombstones)
}

func TestPullAndMergeProgressTieFavorsRemote(t *testing.T) {
	h := newHarness(t)
	local := &vocabulary.Progress{LibraryID: "a", Position: 1, Timestamp: 100}
	remote := &vocabulary.Progress{LibraryID: "a", Position: 9, Timestamp: 100}
	seedLocal(t, h, nil, nil, local)
	seedRemote(t, h, vocabulary.Snapshot{PracticeProgress: remote})

	uploaded, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, remote, uploaded.PracticeProgress)

	stored, err := h.local.LoadPracticeProgress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remote, stored)
}

func TestPullAndMergeToleratesProgressPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.local.saveProgressErr = errors.New("disk full")
	remote := &vocabulary.Progress{LibraryID: "a", Position: 9, Timestamp: 200}
	seedRemote(t, h, vocabulary.Snapshot{PracticeProgress: remote})

	uploaded, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, remote, uploaded.PracticeProgress)
	assert.Equal(t, 1, h.logs.FilterMessage("persisting practice progress failed").Len())
}

func TestPullAndMergeUsesConfiguredPolicy(t *testing.T) {
	h := newHarness(t)
	union, err := merge.PolicyByName("union")
	require.NoError(t, err)
	h.sync.policy = union

	seedLocal(t, h, nil, []string{"b"}, nil)
	seedRemote(t, h, vocabulary.Snapshot{Libraries: []vocabulary.Library{library("b", "B", 1, 1)}})

	uploaded, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, uploaded.Libraries, 1)
	assert.Equal(t, "b", uploaded.Libraries[0].ID)
}

func TestPullAndMergeClassifiesFailures(t *testing.T) {
	testCases := []struct {
		name     string
		fetchErr error
		kind     ErrorKind
		sentinel error
	}{
		{name: "permission", fetchErr: remotestore.ErrPermissionDenied, kind: KindPermissionDenied, sentinel: ErrPermissionDenied},
		{name: "unavailable", fetchErr: remotestore.ErrUnavailable, kind: KindUnavailable, sentinel: ErrUnavailable},
		{name: "deadline", fetchErr: context.DeadlineExceeded, kind: KindUnavailable, sentinel: ErrUnavailable},
		{name: "other", fetchErr: errors.New("boom"), kind: KindUnknown},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			h := newHarness(t)
			h.remote.fetchErr = testCase.fetchErr

			_, err := h.sync.PullAndMerge(context.Background(), testUser)
			require.Error(t, err)

			var syncErr *SyncError
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, testCase.kind, syncErr.Kind)
			assert.Equal(t, opPullAndMerge, syncErr.Op)
			assert.ErrorIs(t, err, testCase.fetchErr)
			if testCase.sentinel != nil {
				assert.ErrorIs(t, err, testCase.sentinel)
			} else {
				assert.NotErrorIs(t, err, ErrPermissionDenied)
				assert.NotErrorIs(t, err, ErrUnavailable)
			}
		})
	}
}

func TestPullAndMergeKeepsLocalWritesWhenUploadFails(t *testing.T) {
	h := newHarness(t)
	endToEndFixture(t, h)
	h.remote.replaceErr = remotestore.ErrUnavailable

	_, err := h.sync.PullAndMerge(context.Background(), testUser)
	require.ErrorIs(t, err, ErrUnavailable)

	tombstones, err := h.local.DeletedLibraryIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tombstones)
}

func TestPushAllOverwritesRemoteWithoutMerging(t *testing.T) {
	h := newHarness(t)
	seedLocal(t, h, []vocabulary.Library{library("a", "Local", 1, 1)}, nil, nil)
	seedRemote(t, h, vocabulary.Snapshot{Libraries: []vocabulary.Library{library("a", "Remote", 1, 50), library("r", "Remote only", 1, 1)}})

	uploaded, err := h.sync.PushAll(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, uploaded.Libraries, 1)
	assert.Equal(t, "Local", uploaded.Libraries[0].Name)
	assert.Equal(t, fixedMillis, uploaded.UpdatedAt)

	remote, err := h.remote.Fetch(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, uploaded, remote.Snapshot)
}

func TestPushAllClassifiesFailures(t *testing.T) {
	h := newHarness(t)
	h.remote.replaceErr = remotestore.ErrPermissionDenied

	_, err := h.sync.PushAll(context.Background(), testUser)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, KindPermissionDenied, Classify(err))
}

func TestOnLocalChangeCoalescesPushes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for index := 0; index < 3; index++ {
		libraries := []vocabulary.Library{library("a", "Edit", 1, int64(index+1))}
		require.NoError(t, h.sync.OnLocalChange(ctx, testUser, libraries, true))
	}

	assert.Equal(t, 3, h.scheduler.scheduled)
	assert.Equal(t, []time.Duration{DefaultPushDelay, DefaultPushDelay, DefaultPushDelay}, h.scheduler.delays)
	assert.Equal(t, 1, h.scheduler.pending())
	assert.Equal(t, 0, h.remote.Writes(testUser))

	h.scheduler.runAll()
	assert.Equal(t, 1, h.remote.Writes(testUser))

	remote, err := h.remote.Fetch(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, remote.Libraries, 1)
	assert.Equal(t, int64(3), *remote.Libraries[0].UpdatedAt)
}

func TestOnLocalChangeSkipsPushWhenSignedOut(t *testing.T) {
	h := newHarness(t)
	libraries := []vocabulary.Library{library("a", "Offline", 1, 1)}
	require.NoError(t, h.sync.OnLocalChange(context.Background(), testUser, libraries, false))

	assert.Equal(t, 0, h.scheduler.pending())
	stored, err := h.local.LoadLibraries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, libraries, stored)
}

func TestOnLocalChangeSwallowsBackgroundFailures(t *testing.T) {
	h := newHarness(t)
	h.remote.replaceErr = remotestore.ErrUnavailable

	require.NoError(t, h.sync.OnLocalChange(context.Background(), testUser, []vocabulary.Library{library("a", "A", 1, 1)}, true))
	assert.NotPanics(t, h.scheduler.runAll)

	entries := h.logs.FilterMessage("background push failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(KindUnavailable), entries[0].ContextMap()["kind"])
}

func TestOnLocalChangeReturnsLocalSaveError(t *testing.T) {
	h := newHarness(t)
	h.local.saveErr = errors.New("read-only")

	err := h.sync.OnLocalChange(context.Background(), testUser, nil, true)
	require.Error(t, err)
	assert.Equal(t, KindUnknown, Classify(err))
	assert.Equal(t, 0, h.scheduler.pending())
}

func TestFlushAndClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.False(t, h.sync.Flush(testUser))

	require.NoError(t, h.sync.OnLocalChange(ctx, testUser, []vocabulary.Library{library("a", "A", 1, 1)}, true))
	assert.True(t, h.sync.Flush(testUser))
	assert.Equal(t, 1, h.remote.Writes(testUser))

	require.NoError(t, h.sync.OnLocalChange(ctx, testUser, []vocabulary.Library{library("a", "A", 1, 2)}, true))
	h.sync.Close()
	assert.False(t, h.sync.Flush(testUser))
	assert.Equal(t, 1, h.remote.Writes(testUser))
}

func TestOperationsForOneUserAreSerialized(t *testing.T) {
	h := newHarness(t)
	seedRemote(t, h, vocabulary.Snapshot{})
	h.remote.fetchGate = make(chan struct{})
	h.remote.fetchEntered = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = h.sync.PullAndMerge(ctx, testUser)
	}()
	<-h.remote.fetchEntered
	go func() {
		defer wg.Done()
		_, _ = h.sync.PushAll(ctx, testUser)
	}()

	assert.Never(t, func() bool {
		return h.remote.Writes(testUser) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(h.remote.fetchGate)
	wg.Wait()
	assert.Equal(t, 3, h.remote.Writes(testUser))
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(Config{Remote: remotestore.NewMemoryStore(nil)})
	require.Error(t, err)
	_, err = New(Config{Local: localstore.NewMemoryStore()})
	require.Error(t, err)
}

func TestDeleteLibraryRecordsTombstoneAndSchedulesPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedLocal(t, h, []vocabulary.Library{library("a", "A", 1, 1), library("b", "B", 1, 1)}, nil, nil)

	removed, err := h.sync.DeleteLibrary(ctx, testUser, "a", true)
	require.NoError(t, err)
	assert.True(t, removed)

	stored, err := h.local.LoadLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "b", stored[0].ID)
	tombstones, err := h.local.DeletedLibraryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tombstones)

	require.Equal(t, 1, h.scheduler.pending())
	h.scheduler.runAll()
	remote, err := h.remote.Fetch(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, remote.DeletedLibraryIDs)
	require.Len(t, remote.Libraries, 1)
}

func TestDeleteLibraryTombstonesUnknownIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	removed, err := h.sync.DeleteLibrary(ctx, testUser, "elsewhere", false)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, h.scheduler.pending())

	tombstones, err := h.local.DeletedLibraryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"elsewhere"}, tombstones)
}

func TestDeleteLibraryRefusesWrongAnswerLibrary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedLocal(t, h, []vocabulary.Library{library(vocabulary.WrongAnswerLibraryID, "Wrong answers", 1, 1)}, nil, nil)

	_, err := h.sync.DeleteLibrary(ctx, testUser, vocabulary.WrongAnswerLibraryID, true)
	require.ErrorIs(t, err, vocabulary.ErrProtectedLibrary)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, KindUnknown, syncErr.Kind)

	stored, err := h.local.LoadLibraries(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	tombstones, err := h.local.DeletedLibraryIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
	assert.Equal(t, 0, h.scheduler.pending())
}
