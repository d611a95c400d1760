//go:build linux

package shm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type SyncTestSuite struct {
	suite.Suite
	reg *Registry
}

func TestSyncTestSuite(t *testing.T) {
	suite.Run(t, new(SyncTestSuite))
}

func (s *SyncTestSuite) SetupTest() {
	cfg := DefaultConfig()
	cfg.Dir = s.T().TempDir()
	reg, err := NewRegistry(cfg)
	s.Require().NoError(err)
	s.reg = reg
}

func (s *SyncTestSuite) TestMutexExcludesOtherHandles() {
	a, err := NewMutex(s.reg, "m", false)
	s.Require().NoError(err)
	defer a.Close()
	b, err := NewMutex(s.reg, "m", true)
	s.Require().NoError(err)

	s.Require().NoError(a.Lock())
	s.Require().False(b.TryLock())
	s.Require().False(a.TryLock())

	released := make(chan struct{})
	go func() {
		s.Require().NoError(b.Lock())
		close(released)
	}()
	select {
	case <-released:
		s.T().Fatal("second handle acquired a held mutex")
	case <-time.After(20 * time.Millisecond):
	}
	s.Require().NoError(a.Unlock())
	<-released
	s.Require().NoError(b.Unlock())

	s.Require().NoError(a.Unlock())
	s.Require().NoError(b.Close())
	s.Require().NoError(CleanMutex(s.reg, "m"))
}

func (s *SyncTestSuite) TestScopedLock() {
	m, err := NewMutex(s.reg, "scoped", true)
	s.Require().NoError(err)
	defer m.Close()

	l, err := NewLock(m)
	s.Require().NoError(err)
	s.Require().True(l.Owns())
	s.Require().Same(m, l.Mutex())
	s.Require().True(l.TryLock())

	s.Require().NoError(l.Unlock())
	s.Require().False(l.Owns())
	s.Require().NoError(l.Unlock())

	t := TryNewLock(m)
	s.Require().True(t.Owns())
	s.Require().False(TryNewLock(m).Owns())
	s.Require().NoError(t.Unlock())
	s.Require().NoError(l.Lock())
	s.Require().True(l.Owns())
	s.Require().NoError(l.Unlock())

	var nilLock *Lock
	s.Require().False(nilLock.Owns())
}

func (s *SyncTestSuite) TestConditionVariableRequiresLock() {
	cv, err := NewConditionVariable(s.reg, "cv", true)
	s.Require().NoError(err)
	defer cv.Close()
	m, err := NewMutex(s.reg, "cv", true)
	s.Require().NoError(err)
	defer m.Close()

	l := &Lock{mutex: m}
	s.Require().ErrorIs(cv.Wait(l), ErrUndefinedLockState)
	woken, err := cv.TimedWait(l, time.Millisecond)
	s.Require().ErrorIs(err, ErrUndefinedLockState)
	s.Require().False(woken)

	s.Require().NoError(l.Lock())
	woken, err = cv.TimedWait(l, 5*time.Millisecond)
	s.Require().NoError(err)
	s.Require().False(woken)
	s.Require().True(l.Owns())
	s.Require().NoError(l.Unlock())
}

func (s *SyncTestSuite) TestConditionVariableNotify() {
	waiter, err := NewLockedConditionVariable(s.reg, "ready", true)
	s.Require().NoError(err)
	defer waiter.Close()
	notifier, err := NewLockedConditionVariable(s.reg, "ready", false)
	s.Require().NoError(err)
	defer notifier.Close()

	var flag atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Require().NoError(waiter.LockScope())
		for !flag.Load() {
			waiter.TimedWait(100 * time.Millisecond)
		}
		s.Require().True(waiter.Owns())
		s.Require().NoError(waiter.UnlockScope())
	}()

	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(notifier.LockScope())
	flag.Store(true)
	s.Require().NoError(notifier.NotifyAll())
	s.Require().NoError(notifier.UnlockScope())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.T().Fatal("waiter was never notified")
	}
}

func (s *SyncTestSuite) TestLockedConditionVariableOutsideScope() {
	lcv, err := NewLockedConditionVariable(s.reg, "scope", true)
	s.Require().NoError(err)
	defer lcv.Close()

	start := time.Now()
	lcv.Wait()
	s.Require().False(lcv.TimedWait(time.Second))
	s.Require().Less(time.Since(start), 500*time.Millisecond)
	s.Require().False(lcv.Owns())
	s.Require().False(lcv.TryLock())
	lcv.Unlock()

	s.Require().NoError(lcv.LockScope())
	s.Require().True(lcv.Owns())
	lcv.Unlock()
	s.Require().False(lcv.Owns())
	s.Require().False(lcv.TimedWait(time.Second))
	s.Require().True(lcv.TryLock())
	s.Require().NoError(lcv.NotifyOne())
	s.Require().NoError(lcv.UnlockScope())
	s.Require().NoError(CleanLockedConditionVariable(s.reg, "scope"))
}
