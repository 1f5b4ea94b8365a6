package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/localstore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
)

type manualScheduler struct {
	mu        sync.Mutex
	tasks     map[string]func()
	delays    []time.Duration
	scheduled int
	stopped   bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]func())}
}

func (s *manualScheduler) Schedule(key string, delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.tasks[key] = task
	s.delays = append(s.delays, delay)
	s.scheduled++
}

func (s *manualScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, key)
}

func (s *manualScheduler) Flush(key string) bool {
	s.mu.Lock()
	task, found := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if !found {
		return false
	}
	task()
	return true
}

func (s *manualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.tasks = make(map[string]func())
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *manualScheduler) runAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]func())
	s.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

type faultyLocal struct {
	*localstore.MemoryStore
	loadErr         error
	saveErr         error
	saveProgressErr error
}

func (store *faultyLocal) LoadLibraries(ctx context.Context) ([]vocabulary.Library, error) {
	if store.loadErr != nil {
		return nil, store.loadErr
	}
	return store.MemoryStore.LoadLibraries(ctx)
}

func (store *faultyLocal) SaveLibraries(ctx context.Context, libraries []vocabulary.Library) error {
	if store.saveErr != nil {
		return store.saveErr
	}
	return store.MemoryStore.SaveLibraries(ctx, libraries)
}

func (store *faultyLocal) SavePracticeProgress(ctx context.Context, progress vocabulary.Progress) error {
	if store.saveProgressErr != nil {
		return store.saveProgressErr
	}
	return store.MemoryStore.SavePracticeProgress(ctx, progress)
}

type faultyRemote struct {
	*remotestore.MemoryStore
	fetchErr   error
	replaceErr error
	// fetchGate, when set, blocks Fetch until it is closed; fetchEntered is signalled first.
	fetchGate    chan struct{}
	fetchEntered chan struct{}
}

func (store *faultyRemote) Fetch(ctx context.Context, userID vocabulary.UserID) (vocabulary.Document, error) {
	if store.fetchEntered != nil {
		close(store.fetchEntered)
	}
	if store.fetchGate != nil {
		<-store.fetchGate
	}
	if store.fetchErr != nil {
		return vocabulary.Document{}, store.fetchErr
	}
	return store.MemoryStore.Fetch(ctx, userID)
}

func (store *faultyRemote) Replace(ctx context.Context, userID vocabulary.UserID, snapshot vocabulary.Snapshot) (vocabulary.Document, error) {
	if store.replaceErr != nil {
		return vocabulary.Document{}, store.replaceErr
	}
	return store.MemoryStore.Replace(ctx, userID, snapshot)
}
