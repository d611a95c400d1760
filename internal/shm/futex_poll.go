//go:build unix && !linux

package shm

import (
	"sync/atomic"
	"time"
)

const pollInterval = 50 * time.Microsecond

// FutexWait polls *addr until it differs from val or timeout elapses.
func FutexWait(addr *uint32, val uint32, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for atomic.LoadUint32(addr) == val {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// FutexWake is a no-op: pollers notice the changed word by themselves.
func FutexWake(addr *uint32, n int) (int, error) {
	return 0, nil
}
