// Package syncer keeps the device replica and the cloud replica of a user's vocabulary
// data converged.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/localstore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/merge"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"go.uber.org/zap"
)

const (
	// DefaultPushDelay is the quiet period after the last local change before a push.
	DefaultPushDelay = 1200 * time.Millisecond

	opPullAndMerge  = "pull_and_merge"
	opPushAll       = "push_all"
	opOnLocalChange = "on_local_change"
	opDeleteLibrary = "delete_library"

	pushKeyPrefix = "push:"
)

var (
	errMissingLocalStore  = errors.New("syncer: local store is required")
	errMissingRemoteStore = errors.New("syncer: remote store is required")
)

// Config wires an Orchestrator to its stores and collaborators.
type Config struct {
	Local     localstore.Store
	Remote    remotestore.Store
	Policy    merge.ReconciliationPolicy
	Scheduler Scheduler
	PushDelay time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Orchestrator runs pull-merge-push cycles and debounced pushes. Operations for the same
// user never overlap.
type Orchestrator struct {
	local     localstore.Store
	remote    remotestore.Store
	policy    merge.ReconciliationPolicy
	scheduler Scheduler
	pushDelay time.Duration
	clock     func() time.Time
	logger    *zap.Logger

	locksMu sync.Mutex
	locks   map[vocabulary.UserID]*sync.Mutex
}

// New constructs an Orchestrator. Policy defaults to the tombstone policy, Scheduler to a
// TimerScheduler and PushDelay to DefaultPushDelay.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Local == nil {
		return nil, errMissingLocalStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemoteStore
	}
	policy := cfg.Policy
	if policy == nil {
		policy = merge.Default()
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewTimerScheduler()
	}
	pushDelay := cfg.PushDelay
	if pushDelay <= 0 {
		pushDelay = DefaultPushDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		local:     cfg.Local,
		remote:    cfg.Remote,
		policy:    policy,
		scheduler: scheduler,
		pushDelay: pushDelay,
		clock:     clock,
		logger:    logger,
		locks:     make(map[vocabulary.UserID]*sync.Mutex),
	}, nil
}

// PullAndMerge fetches the remote document, merges it with the local replica, persists
// the result locally and uploads it. The uploaded snapshot is returned. When the user has
// no remote document yet the local snapshot is uploaded unchanged.
func (o *Orchestrator) PullAndMerge(ctx context.Context, userID vocabulary.UserID) (vocabulary.Snapshot, error) {
	unlock := o.lock(userID)
	defer unlock()

	remoteDocument, err := o.remote.Fetch(ctx, userID)
	if errors.Is(err, remotestore.ErrDocumentNotFound) {
		o.logger.Info("no remote document, uploading local snapshot", zap.String("user_id", userID.String()))
		return o.pushLocal(ctx, userID, opPullAndMerge)
	}
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
	}

	localLibraries, err := o.local.LoadLibraries(ctx)
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
	}
	localTombstones, err := o.local.DeletedLibraryIDs(ctx)
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
	}
	localProgress, err := o.local.LoadPracticeProgress(ctx)
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
	}

	merged := o.policy.Reconcile(merge.Input{
		LocalLibraries:   localLibraries,
		RemoteLibraries:  remoteDocument.Libraries,
		LocalTombstones:  localTombstones,
		RemoteTombstones: remoteDocument.DeletedLibraryIDs,
	})

	if err := o.local.SaveLibraries(ctx, merged.Libraries); err != nil {
		return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
	}

	known := make(map[string]struct{}, len(localTombstones))
	for _, id := range localTombstones {
		known[id] = struct{}{}
	}
	for _, id := range merged.Tombstones {
		if _, found := known[id]; found {
			continue
		}
		if err := o.local.AddDeletedLibraryID(ctx, id); err != nil {
			return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
		}
	}

	progress := merge.ResolveProgress(localProgress, remoteDocument.PracticeProgress)
	if progress != nil && (localProgress == nil || *progress != *localProgress) {
		if err := o.local.SavePracticeProgress(ctx, *progress); err != nil {
			o.logger.Warn("persisting practice progress failed",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	snapshot := newSnapshot(merged.Libraries, merged.Tombstones, progress, o.clock())
	if _, err := o.remote.Replace(ctx, userID, snapshot); err != nil {
		return vocabulary.Snapshot{}, o.fail(opPullAndMerge, userID, err)
	}

	o.logger.Info("sync completed",
		zap.String("user_id", userID.String()),
		zap.String("policy", string(o.policy.Name())),
		zap.Int("libraries", len(snapshot.Libraries)),
		zap.Int("tombstones", len(snapshot.DeletedLibraryIDs)),
	)
	return snapshot, nil
}

// PushAll uploads the full local snapshot, overwriting the remote document without merging.
func (o *Orchestrator) PushAll(ctx context.Context, userID vocabulary.UserID) (vocabulary.Snapshot, error) {
	unlock := o.lock(userID)
	defer unlock()
	return o.pushLocal(ctx, userID, opPushAll)
}

// OnLocalChange persists libraries immediately and, for an authenticated user, restarts
// the debounced push. Only the local save error is returned; push failures are logged.
func (o *Orchestrator) OnLocalChange(ctx context.Context, userID vocabulary.UserID, libraries []vocabulary.Library, isAuthenticated bool) error {
	if err := o.local.SaveLibraries(ctx, libraries); err != nil {
		return newSyncError(opOnLocalChange, err)
	}
	if !isAuthenticated {
		return nil
	}
	o.schedulePush(userID)
	return nil
}

func (o *Orchestrator) schedulePush(userID vocabulary.UserID) {
	o.scheduler.Schedule(pushKeyPrefix+userID.String(), o.pushDelay, func() {
		o.backgroundPush(userID)
	})
}

// DeleteLibrary removes a library from the device and records its tombstone, so the
// deletion survives merges with replicas that still hold the library. For an
// authenticated user the debounced push is restarted. It reports whether the library
// was present locally; the tombstone is recorded either way. The wrong-answer library
// cannot be deleted.
func (o *Orchestrator) DeleteLibrary(ctx context.Context, userID vocabulary.UserID, libraryID string, isAuthenticated bool) (bool, error) {
	validID, err := vocabulary.NewLibraryID(libraryID)
	if err != nil {
		return false, newSyncError(opDeleteLibrary, err)
	}
	if validID == vocabulary.WrongAnswerLibraryID {
		return false, newSyncError(opDeleteLibrary, fmt.Errorf("%w: %s", vocabulary.ErrProtectedLibrary, validID))
	}

	unlock := o.lock(userID)
	defer unlock()

	libraries, err := o.local.LoadLibraries(ctx)
	if err != nil {
		return false, o.fail(opDeleteLibrary, userID, err)
	}
	if err := o.local.AddDeletedLibraryID(ctx, validID); err != nil {
		return false, o.fail(opDeleteLibrary, userID, err)
	}

	remaining := make([]vocabulary.Library, 0, len(libraries))
	for _, library := range libraries {
		if library.ID != validID {
			remaining = append(remaining, library)
		}
	}
	removed := len(remaining) != len(libraries)
	if removed {
		if err := o.local.SaveLibraries(ctx, remaining); err != nil {
			return false, o.fail(opDeleteLibrary, userID, err)
		}
	}

	o.logger.Info("library deleted",
		zap.String("user_id", userID.String()),
		zap.String("library_id", validID),
		zap.Bool("present", removed),
	)
	if isAuthenticated {
		o.schedulePush(userID)
	}
	return removed, nil
}

// Flush runs the pending debounced push for userID now and reports whether one was pending.
func (o *Orchestrator) Flush(userID vocabulary.UserID) bool {
	return o.scheduler.Flush(pushKeyPrefix + userID.String())
}

// Close cancels every pending debounced push.
func (o *Orchestrator) Close() {
	o.scheduler.Stop()
}

func (o *Orchestrator) backgroundPush(userID vocabulary.UserID) {
	if _, err := o.PushAll(context.Background(), userID); err != nil {
		o.logger.Warn("background push failed",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(Classify(err))),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) pushLocal(ctx context.Context, userID vocabulary.UserID, op string) (vocabulary.Snapshot, error) {
	libraries, err := o.local.LoadLibraries(ctx)
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(op, userID, err)
	}
	tombstones, err := o.local.DeletedLibraryIDs(ctx)
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(op, userID, err)
	}
	progress, err := o.local.LoadPracticeProgress(ctx)
	if err != nil {
		return vocabulary.Snapshot{}, o.fail(op, userID, err)
	}

	snapshot := newSnapshot(libraries, tombstones, progress, o.clock())
	if _, err := o.remote.Replace(ctx, userID, snapshot); err != nil {
		return vocabulary.Snapshot{}, o.fail(op, userID, err)
	}
	o.logger.Debug("local snapshot uploaded",
		zap.String("user_id", userID.String()),
		zap.String("operation", op),
		zap.Int("libraries", len(snapshot.Libraries)),
	)
	return snapshot, nil
}

func (o *Orchestrator) fail(op string, userID vocabulary.UserID, err error) error {
	syncErr := newSyncError(op, err)
	o.logger.Error("sync failed",
		zap.String("operation", op),
		zap.String("user_id", userID.String()),
		zap.String("kind", string(Classify(syncErr))),
		zap.Error(err),
	)
	return syncErr
}

func (o *Orchestrator) lock(userID vocabulary.UserID) func() {
	o.locksMu.Lock()
	userLock, found := o.locks[userID]
	if !found {
		userLock = &sync.Mutex{}
		o.locks[userID] = userLock
	}
	o.locksMu.Unlock()
	userLock.Lock()
	return userLock.Unlock
}

func newSnapshot(libraries []vocabulary.Library, tombstones []string, progress *vocabulary.Progress, now time.Time) vocabulary.Snapshot {
	snapshot := vocabulary.Snapshot{
		Libraries:         vocabulary.CloneLibraries(libraries),
		DeletedLibraryIDs: append([]string{}, tombstones...),
		PracticeProgress:  progress.Clone(),
		UpdatedAt:         now.UTC().UnixMilli(),
	}
	if snapshot.Libraries == nil {
		snapshot.Libraries = []vocabulary.Library{}
	}
	return snapshot
}
