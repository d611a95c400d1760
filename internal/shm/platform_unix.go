//go:build unix

package shm

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region. A region created here is
// zero filled; an existing region keeps its size and content.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		flags |= unix.O_CREAT
	}
	fd, err := unix.Open(opts.Path, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fstat %s: %w", opts.Path, err)
	}
	size := int(st.Size)
	if size == 0 {
		if !opts.Create || opts.Size <= 0 {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("%s: %w", opts.Path, ErrNotInitialized)
		}
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("ftruncate %s: %w", opts.Path, err)
		}
		size = opts.Size
	}
	addr, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", opts.Path, err)
	}
	return &MappedRegion{
		Addr: addr,
		Path: opts.Path,
		fd:   fd,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region. The backing object survives.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if err := unix.Close(region.fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// LockFile is an advisory whole-file lock. Every LockFile owns its own open
// file description, so two LockFiles on the same path exclude each other even
// inside one process. The kernel drops the lock when the holder dies.
type LockFile struct {
	Path string
	fd   int
}

// OpenLockFile opens or creates the lock file at path.
func OpenLockFile(path string) (*LockFile, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}
	return &LockFile{Path: path, fd: fd}, nil
}

// Lock blocks until the exclusive lock is held.
func (l *LockFile) Lock() error {
	for {
		err := unix.Flock(l.fd, unix.LOCK_EX)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("flock %s: %w", l.Path, err)
		}
		return nil
	}
}

// TryLock takes the lock if it is free and reports whether it did.
func (l *LockFile) TryLock() (bool, error) {
	err := unix.Flock(l.fd, unix.LOCK_EX|unix.LOCK_NB)
	switch err {
	case nil:
		return true, nil
	case unix.EWOULDBLOCK:
		return false, nil
	default:
		return false, fmt.Errorf("flock %s: %w", l.Path, err)
	}
}

// Unlock releases the lock.
func (l *LockFile) Unlock() error {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock %s: %w", l.Path, err)
	}
	return nil
}

// Close releases the descriptor, and with it any lock still held.
func (l *LockFile) Close() error {
	return unix.Close(l.fd)
}
