//go:build linux

package shm

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (non private) futex operations: the word lives in a MAP_SHARED
// mapping and is waited on from several processes.
const (
	futexWait = 0
	futexWake = 1
)

// FutexWait blocks while *addr == val, until woken or until timeout elapses.
// timeout <= 0 waits forever. Returns ErrTimeout when the time ran out; any
// other return may be spurious and the caller re-checks its condition.
func FutexWait(addr *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	var tsp unsafe.Pointer
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = unsafe.Pointer(&ts)
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(tsp),
		0,
		0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrTimeout
	default:
		return fmt.Errorf("futex wait: %w", errno)
	}
}

// FutexWake wakes up to n waiters blocked on addr and returns how many woke.
func FutexWake(addr *uint32, n int) (int, error) {
	if n <= 0 || n > math.MaxInt32 {
		n = math.MaxInt32
	}
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake: %w", errno)
	}
	return int(r1), nil
}
