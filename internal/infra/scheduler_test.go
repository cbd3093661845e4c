package infra

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTimerScheduler_Fires(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())
	defer s.Stop()

	done := make(chan struct{})
	s.PostDelayed("a", 5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimerScheduler_ReplaceKey(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())
	defer s.Stop()

	var first, second atomic.Int32
	s.PostDelayed("k", 10*time.Millisecond, func() { first.Add(1) })
	s.PostDelayed("k", 20*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, s.Pending())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestTimerScheduler_Cancel(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())
	defer s.Stop()

	var ran atomic.Bool
	s.PostDelayed("k", 20*time.Millisecond, func() { ran.Store(true) })

	assert.True(t, s.Cancel("k"))
	assert.False(t, s.Cancel("k"))
	assert.False(t, s.Cancel("unknown"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestTimerScheduler_PanicIsContained(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())
	defer s.Stop()

	var after atomic.Bool
	s.PostDelayed("boom", time.Millisecond, func() { panic("task failure") })
	s.PostDelayed("ok", 10*time.Millisecond, func() { after.Store(true) })

	assert.Eventually(t, after.Load, time.Second, 5*time.Millisecond)
}

func TestTimerScheduler_StopDropsPending(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())

	var ran atomic.Bool
	s.PostDelayed("k", 10*time.Millisecond, func() { ran.Store(true) })
	s.Stop()
	s.PostDelayed("late", time.Millisecond, func() { ran.Store(true) })

	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestTimerScheduler_TaskMayReschedule(t *testing.T) {
	s := NewTimerScheduler(zap.NewNop())
	defer s.Stop()

	var runs atomic.Int32
	var task func()
	task = func() {
		if runs.Add(1) < 3 {
			s.PostDelayed("loop", time.Millisecond, task)
		}
	}
	s.PostDelayed("loop", time.Millisecond, task)

	assert.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, 5*time.Millisecond)
}
