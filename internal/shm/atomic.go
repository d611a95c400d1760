package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Uint64At returns the 8-aligned word at off in mem for use with sync/atomic.
func Uint64At(mem []byte, off int) *uint64 {
	p := unsafe.Pointer(&mem[off : off+8][0])
	if uintptr(p)%8 != 0 {
		panic(fmt.Sprintf("shm: unaligned uint64 at offset %d", off))
	}
	return (*uint64)(p)
}

// Uint32At returns the 4-aligned word at off in mem for use with sync/atomic.
func Uint32At(mem []byte, off int) *uint32 {
	p := unsafe.Pointer(&mem[off : off+4][0])
	if uintptr(p)%4 != 0 {
		panic(fmt.Sprintf("shm: unaligned uint32 at offset %d", off))
	}
	return (*uint32)(p)
}

// AtomicLoadUint64 loads a uint64 from shared memory atomically.
func AtomicLoadUint64(mem []byte, off int) uint64 {
	return atomic.LoadUint64(Uint64At(mem, off))
}

// AtomicStoreUint64 stores a uint64 to shared memory atomically.
func AtomicStoreUint64(mem []byte, off int, val uint64) {
	atomic.StoreUint64(Uint64At(mem, off), val)
}

// AtomicCompareAndSwapUint64 atomically compares and swaps a uint64 in shared memory.
func AtomicCompareAndSwapUint64(mem []byte, off int, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(Uint64At(mem, off), old, new)
}
