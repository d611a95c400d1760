package shm

import (
	"sync"
	"sync/atomic"

	internalshm "github.com/srediag/shm-exchange/internal/shm"
)

// Mutex is a named mutex shared by every process using the same Registry
// directory. It also excludes goroutines of the owning process. The kernel
// releases it when the holding process dies.
type Mutex struct {
	id                 string
	path               string
	clearOnDestruction bool

	local sync.Mutex
	file  *internalshm.LockFile
	held  atomic.Bool
}

// NewMutex opens or creates the mutex id. When clearOnDestruction is set,
// Close removes the underlying object.
func NewMutex(r *Registry, id string, clearOnDestruction bool) (*Mutex, error) {
	path, err := r.path(id, lockSuffix)
	if err != nil {
		return nil, err
	}
	file, err := internalshm.OpenLockFile(path)
	if err != nil {
		return nil, err
	}
	return &Mutex{id: id, path: path, clearOnDestruction: clearOnDestruction, file: file}, nil
}

// ID returns the mutex identifier.
func (m *Mutex) ID() string { return m.id }

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() error {
	m.local.Lock()
	if err := m.file.Lock(); err != nil {
		m.local.Unlock()
		return err
	}
	m.held.Store(true)
	return nil
}

// TryLock acquires the mutex if it is free.
func (m *Mutex) TryLock() bool {
	if !m.local.TryLock() {
		return false
	}
	ok, err := m.file.TryLock()
	if err != nil || !ok {
		m.local.Unlock()
		return false
	}
	m.held.Store(true)
	return true
}

// Unlock releases the mutex. Unlocking a free mutex is reported and ignored.
func (m *Mutex) Unlock() error {
	if !m.held.CompareAndSwap(true, false) {
		internalLogger.Warnf("mutex %s: unlock of unlocked mutex", m.id)
		return nil
	}
	err := m.file.Unlock()
	m.local.Unlock()
	return err
}

// Close releases the mutex if held and closes it.
func (m *Mutex) Close() error {
	if m.held.Load() {
		if err := m.Unlock(); err != nil {
			internalLogger.Warnf("mutex %s: unlock on close: %v", m.id, err)
		}
	}
	err := m.file.Close()
	if m.clearOnDestruction {
		if uerr := internalshm.Unlink(m.path); err == nil {
			err = uerr
		}
	}
	return err
}

// CleanMutex removes the object backing mutex id. Handles already open keep
// working among themselves.
func CleanMutex(r *Registry, id string) error {
	path, err := r.path(id, lockSuffix)
	if err != nil {
		return err
	}
	return internalshm.Unlink(path)
}

// Lock is a scoped holder of a Mutex.
//
//	l, err := shm.NewLock(m)
//	if err != nil { ... }
//	defer l.Unlock()
type Lock struct {
	mutex *Mutex
	owns  bool
}

// NewLock locks m and returns the holder.
func NewLock(m *Mutex) (*Lock, error) {
	if err := m.Lock(); err != nil {
		return nil, err
	}
	return &Lock{mutex: m, owns: true}, nil
}

// TryNewLock returns a holder that owns m only if m was free.
func TryNewLock(m *Mutex) *Lock {
	return &Lock{mutex: m, owns: m.TryLock()}
}

// Owns reports whether the holder currently owns the mutex.
func (l *Lock) Owns() bool { return l != nil && l.owns }

// Mutex returns the held mutex.
func (l *Lock) Mutex() *Mutex { return l.mutex }

// Lock reacquires the mutex. It is a no-op when already owned.
func (l *Lock) Lock() error {
	if l.owns {
		return nil
	}
	if err := l.mutex.Lock(); err != nil {
		return err
	}
	l.owns = true
	return nil
}

// TryLock reacquires the mutex if it is free.
func (l *Lock) TryLock() bool {
	if !l.owns {
		l.owns = l.mutex.TryLock()
	}
	return l.owns
}

// Unlock releases the mutex if owned.
func (l *Lock) Unlock() error {
	if !l.owns {
		return nil
	}
	l.owns = false
	return l.mutex.Unlock()
}
