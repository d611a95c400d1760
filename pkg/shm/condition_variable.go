package shm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	internalshm "github.com/srediag/shm-exchange/internal/shm"
)

// condWordSize is the size of the file holding the sequence word of a ConditionVariable.
const condWordSize = 64

// ConditionVariable is a named condition variable shared between processes.
// Waiters block on a sequence word that every notification increments, so
// wake ups may be spurious and callers re-check their predicate.
type ConditionVariable struct {
	id                 string
	path               string
	clearOnDestruction bool
	region             *internalshm.MappedRegion
	seq                *uint32
}

// NewConditionVariable opens or creates the condition variable id.
func NewConditionVariable(r *Registry, id string, clearOnDestruction bool) (*ConditionVariable, error) {
	path, err := r.path(id, condSuffix)
	if err != nil {
		return nil, err
	}
	region, err := internalshm.MapRegion(context.Background(),
		internalshm.MapOptions{Path: path, Size: condWordSize, Create: true})
	if err != nil {
		return nil, err
	}
	return &ConditionVariable{
		id:                 id,
		path:               path,
		clearOnDestruction: clearOnDestruction,
		region:             region,
		seq:                internalshm.Uint32At(region.Addr, 0),
	}, nil
}

// ID returns the condition variable identifier.
func (c *ConditionVariable) ID() string { return c.id }

// Wait releases l, blocks until notified, then reacquires l.
// Waiting without owning l is reported as ErrUndefinedLockState and does nothing.
func (c *ConditionVariable) Wait(l *Lock) error {
	_, err := c.wait(l, 0)
	return err
}

// TimedWait is Wait with a timeout. It reports false when the timeout elapsed
// before a notification.
func (c *ConditionVariable) TimedWait(l *Lock, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		if !l.Owns() {
			return false, c.undefined()
		}
		return false, nil
	}
	return c.wait(l, timeout)
}

func (c *ConditionVariable) undefined() error {
	internalLogger.Warnf("condition variable %s: wait without holding the lock", c.id)
	return ErrUndefinedLockState
}

func (c *ConditionVariable) wait(l *Lock, timeout time.Duration) (bool, error) {
	if !l.Owns() {
		return false, c.undefined()
	}
	seq := atomic.LoadUint32(c.seq)
	if err := l.Unlock(); err != nil {
		return false, err
	}
	werr := internalshm.FutexWait(c.seq, seq, timeout)
	if err := l.Lock(); err != nil {
		return false, err
	}
	if errors.Is(werr, internalshm.ErrTimeout) {
		return false, nil
	}
	return true, werr
}

// NotifyOne wakes at least one waiter, if any.
func (c *ConditionVariable) NotifyOne() error {
	atomic.AddUint32(c.seq, 1)
	_, err := internalshm.FutexWake(c.seq, 1)
	return err
}

// NotifyAll wakes every waiter.
func (c *ConditionVariable) NotifyAll() error {
	atomic.AddUint32(c.seq, 1)
	_, err := internalshm.FutexWake(c.seq, 0)
	return err
}

// Close unmaps the condition variable, removing it when requested at creation.
func (c *ConditionVariable) Close() error {
	if c.region == nil {
		return ErrClosed
	}
	err := internalshm.UnmapRegion(c.region)
	c.region, c.seq = nil, nil
	if c.clearOnDestruction {
		if uerr := internalshm.Unlink(c.path); err == nil {
			err = uerr
		}
	}
	return err
}

// CleanConditionVariable removes the object backing condition variable id.
func CleanConditionVariable(r *Registry, id string) error {
	path, err := r.path(id, condSuffix)
	if err != nil {
		return err
	}
	return internalshm.Unlink(path)
}
