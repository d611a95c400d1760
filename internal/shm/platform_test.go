//go:build linux

package shm

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRegion_CreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	r1, err := MapRegion(context.Background(), MapOptions{Path: path, Size: 4096, Create: true})
	require.NoError(t, err)
	r1.Addr[10] = 42

	r2, err := MapRegion(context.Background(), MapOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 4096, len(r2.Addr))
	assert.Equal(t, byte(42), r2.Addr[10])

	require.NoError(t, UnmapRegion(r1))
	require.NoError(t, UnmapRegion(r2))
	require.NoError(t, Unlink(path))
	assert.False(t, Exists(path))
	require.NoError(t, Unlink(path))
}

func TestMapRegion_OpenMissing(t *testing.T) {
	_, err := MapRegion(context.Background(), MapOptions{Path: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
}

func TestLockFile_ExcludesWithinProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	a, err := OpenLockFile(path)
	require.NoError(t, err)
	b, err := OpenLockFile(path)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Lock())
	ok, err := b.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock())
	ok, err = b.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock())
}

func TestFutex_WaitTimeoutAndWake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "futex")
	r, err := MapRegion(context.Background(), MapOptions{Path: path, Size: 4096, Create: true})
	require.NoError(t, err)
	defer UnmapRegion(r)
	word := Uint32At(r.Addr, 0)

	err = FutexWait(word, 0, 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout))

	// value already changed: returns at once
	atomic.StoreUint32(word, 1)
	require.NoError(t, FutexWait(word, 0, time.Second))

	done := make(chan struct{})
	go func() {
		for atomic.LoadUint32(word) == 1 {
			_ = FutexWait(word, 1, 100*time.Millisecond)
		}
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	atomic.StoreUint32(word, 2)
	_, err = FutexWake(word, 1)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestAtomicHelpers(t *testing.T) {
	mem := make([]uint64, 4)
	buf := unsafeBytes(mem)
	AtomicStoreUint64(buf, 8, 7)
	assert.Equal(t, uint64(7), AtomicLoadUint64(buf, 8))
	assert.True(t, AtomicCompareAndSwapUint64(buf, 8, 7, 9))
	assert.False(t, AtomicCompareAndSwapUint64(buf, 8, 7, 11))
	assert.Equal(t, uint64(9), mem[1])
}

func TestCanCreate(t *testing.T) {
	assert.True(t, CanCreate(math.MaxUint64, "/tmp/elsewhere"))
	if !Exists(DevShm) {
		t.Skip("no /dev/shm")
	}
	stat, err := disk.Usage(DevShm)
	require.NoError(t, err)
	assert.True(t, CanCreate(stat.Free/2, filepath.Join(DevShm, "x")))
	assert.False(t, CanCreate(math.MaxUint64, filepath.Join(DevShm, "y")))
}

func unsafeBytes(words []uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
}
