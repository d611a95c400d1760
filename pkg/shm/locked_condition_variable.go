package shm

import (
	"errors"
	"time"
)

// LockedConditionVariable bundles a Mutex, the Lock holding it and a
// ConditionVariable under one identifier. Waiting outside a lock scope is
// logged and ignored.
type LockedConditionVariable struct {
	id    string
	mutex *Mutex
	cond  *ConditionVariable
	lock  *Lock
}

// NewLockedConditionVariable opens the objects "<id>_mtx" and "<id>_cond".
func NewLockedConditionVariable(r *Registry, id string, clearOnDestruction bool) (*LockedConditionVariable, error) {
	mutex, err := NewMutex(r, id+"_mtx", clearOnDestruction)
	if err != nil {
		return nil, err
	}
	cond, err := NewConditionVariable(r, id+"_cond", clearOnDestruction)
	if err != nil {
		_ = mutex.Close()
		return nil, err
	}
	return &LockedConditionVariable{id: id, mutex: mutex, cond: cond}, nil
}

// ID returns the identifier.
func (c *LockedConditionVariable) ID() string { return c.id }

// LockScope acquires the mutex and opens a scope in which waits are allowed.
func (c *LockedConditionVariable) LockScope() error {
	if c.lock.Owns() {
		return nil
	}
	l, err := NewLock(c.mutex)
	if err != nil {
		return err
	}
	c.lock = l
	return nil
}

// UnlockScope releases the mutex and closes the scope.
func (c *LockedConditionVariable) UnlockScope() error {
	if c.lock == nil {
		return nil
	}
	err := c.lock.Unlock()
	c.lock = nil
	return err
}

// Wait blocks until notified. Outside a lock scope it warns and returns.
func (c *LockedConditionVariable) Wait() {
	if c.lock == nil {
		internalLogger.Warnf("locked condition variable %s: wait called outside a lock scope", c.id)
		return
	}
	if err := c.cond.Wait(c.lock); err != nil && !errors.Is(err, ErrUndefinedLockState) {
		internalLogger.Errorf("locked condition variable %s: wait: %v", c.id, err)
	}
}

// TimedWait blocks until notified or until timeout. It reports whether a
// notification arrived. Outside a lock scope it warns and returns false.
func (c *LockedConditionVariable) TimedWait(timeout time.Duration) bool {
	if c.lock == nil {
		internalLogger.Warnf("locked condition variable %s: timed wait called outside a lock scope", c.id)
		return false
	}
	woken, err := c.cond.TimedWait(c.lock, timeout)
	if err != nil && !errors.Is(err, ErrUndefinedLockState) {
		internalLogger.Errorf("locked condition variable %s: timed wait: %v", c.id, err)
	}
	return woken
}

// TryLock reacquires the mutex of the current scope if it is free.
func (c *LockedConditionVariable) TryLock() bool {
	if c.lock == nil {
		internalLogger.Warnf("locked condition variable %s: try lock called outside a lock scope", c.id)
		return false
	}
	return c.lock.TryLock()
}

// Unlock releases the mutex but keeps the scope open.
func (c *LockedConditionVariable) Unlock() {
	if c.lock == nil {
		internalLogger.Warnf("locked condition variable %s: unlock called outside a lock scope", c.id)
		return
	}
	if err := c.lock.Unlock(); err != nil {
		internalLogger.Errorf("locked condition variable %s: unlock: %v", c.id, err)
	}
}

// Owns reports whether the mutex is held by this handle.
func (c *LockedConditionVariable) Owns() bool {
	if c.lock == nil {
		internalLogger.Warnf("locked condition variable %s: owns called outside a lock scope", c.id)
		return false
	}
	return c.lock.Owns()
}

// NotifyOne wakes at least one waiter, if any.
func (c *LockedConditionVariable) NotifyOne() error { return c.cond.NotifyOne() }

// NotifyAll wakes every waiter.
func (c *LockedConditionVariable) NotifyAll() error { return c.cond.NotifyAll() }

// Close releases the scope and closes the underlying objects.
func (c *LockedConditionVariable) Close() error {
	err := c.UnlockScope()
	if cerr := c.cond.Close(); err == nil {
		err = cerr
	}
	if merr := c.mutex.Close(); err == nil {
		err = merr
	}
	return err
}

// CleanLockedConditionVariable removes the objects backing id.
func CleanLockedConditionVariable(r *Registry, id string) error {
	if err := CleanMutex(r, id+"_mtx"); err != nil {
		return err
	}
	return CleanConditionVariable(r, id+"_cond")
}
