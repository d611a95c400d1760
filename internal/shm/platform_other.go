//go:build !unix

package shm

import (
	"context"
	"time"
)

// MapRegion is not implemented on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion is not implemented on this platform.
func UnmapRegion(region *MappedRegion) error {
	return ErrUnsupported
}

// LockFile is not implemented on this platform.
type LockFile struct {
	Path string
}

func OpenLockFile(path string) (*LockFile, error) { return nil, ErrUnsupported }
func (l *LockFile) Lock() error                   { return ErrUnsupported }
func (l *LockFile) TryLock() (bool, error)        { return false, ErrUnsupported }
func (l *LockFile) Unlock() error                 { return ErrUnsupported }
func (l *LockFile) Close() error                  { return ErrUnsupported }

func FutexWait(addr *uint32, val uint32, timeout time.Duration) error { return ErrUnsupported }
func FutexWake(addr *uint32, n int) (int, error)                      { return 0, ErrUnsupported }
