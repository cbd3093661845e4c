package infra

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// TimerScheduler implements domain.Scheduler with one runtime timer per key.
// Tasks run on their own goroutine, never on the caller's.
type TimerScheduler struct {
	mu     sync.Mutex
	seq    uint64
	tasks  map[string]*scheduledTask
	closed bool
	wg     sync.WaitGroup
	logger *zap.Logger
}

type scheduledTask struct {
	id    uint64
	timer *time.Timer
}

// NewTimerScheduler creates a scheduler.
func NewTimerScheduler(logger *zap.Logger) *TimerScheduler {
	return &TimerScheduler{
		tasks:  make(map[string]*scheduledTask),
		logger: logger,
	}
}

// PostDelayed schedules fn under key, replacing a pending task with the same key.
func (s *TimerScheduler) PostDelayed(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}

	s.seq++
	id := s.seq
	s.tasks[key] = &scheduledTask{
		id: id,
		timer: time.AfterFunc(delay, func() {
			s.run(key, id, fn)
		}),
	}
}

func (s *TimerScheduler) run(key string, id uint64, fn func()) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok || t.id != id || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", zap.String("task", key), zap.Any("panic", r))
		}
	}()
	fn()
}

// Cancel removes a pending task. It reports whether one was pending.
func (s *TimerScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending returns the number of tasks waiting to fire.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and waits for running ones.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Ensure TimerScheduler implements domain.Scheduler.
var _ domain.Scheduler = (*TimerScheduler)(nil)
