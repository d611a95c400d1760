// Package shm contains the platform-specific pieces behind the public shm package:
// mapped regions, lock files and futex words.
package shm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// DevShm is the preferred directory for shared memory files.
const DevShm = "/dev/shm"

var (
	// ErrUnsupported is returned on platforms without mmap/flock.
	ErrUnsupported = errors.New("shm: platform not supported")
	// ErrNotInitialized is returned when an existing region has not been sized yet.
	ErrNotInitialized = errors.New("shm: region not initialized")
	// ErrTimeout is returned by a futex wait that ran out of time.
	ErrTimeout = errors.New("shm: wait timed out")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Path string
	fd   int
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Path   string
	Size   int
	Create bool
}

// DefaultDir returns /dev/shm when it is usable, the temp directory otherwise.
func DefaultDir() string {
	info, err := os.Stat(DevShm)
	if err == nil && info.IsDir() {
		return DevShm
	}
	return os.TempDir()
}

// Exists reports whether the file backing a region or lock exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Unlink removes the named object for everyone. Removing a missing object is not an error.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CanCreate reports whether size bytes fit in the file system holding path.
// Only tmpfs under /dev/shm is checked, other locations always report true.
func CanCreate(size uint64, path string) bool {
	if !strings.HasPrefix(filepath.Clean(path), DevShm) {
		return true
	}
	stat, err := disk.Usage(DevShm)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
