package syncer

import (
	"sync"
	"time"
)

// Scheduler runs delayed tasks keyed by name. Scheduling a key that already has a
// pending task replaces it and restarts the delay.
type Scheduler interface {
	Schedule(key string, delay time.Duration, task func())
	Cancel(key string)
	// Flush runs the pending task for key immediately and reports whether one existed.
	Flush(key string) bool
	// Stop cancels every pending task; later Schedule calls are ignored.
	Stop()
}

type pendingTask struct {
	timer      *time.Timer
	task       func()
	generation uint64
}

// TimerScheduler is a Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu         sync.Mutex
	pending    map[string]*pendingTask
	generation uint64
	stopped    bool
}

// NewTimerScheduler returns an empty TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[string]*pendingTask)}
}

// Schedule implements Scheduler.
func (s *TimerScheduler) Schedule(key string, delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if existing, found := s.pending[key]; found {
		existing.timer.Stop()
	}
	s.generation++
	generation := s.generation
	entry := &pendingTask{task: task, generation: generation}
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(key, generation)
	})
	s.pending[key] = entry
}

// Cancel implements Scheduler.
func (s *TimerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, found := s.pending[key]; found {
		existing.timer.Stop()
		delete(s.pending, key)
	}
}

// Flush implements Scheduler.
func (s *TimerScheduler) Flush(key string) bool {
	s.mu.Lock()
	existing, found := s.pending[key]
	if found {
		existing.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !found {
		return false
	}
	existing.task()
	return true
}

// Stop implements Scheduler.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, existing := range s.pending {
		existing.timer.Stop()
		delete(s.pending, key)
	}
}

// A timer that lost the race with Schedule, Cancel or Flush finds a newer generation or
// no entry at all and does nothing.
func (s *TimerScheduler) fire(key string, generation uint64) {
	s.mu.Lock()
	existing, found := s.pending[key]
	if !found || existing.generation != generation {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()
	existing.task()
}
