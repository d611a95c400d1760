package shm

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailure means the segment ran out of backing memory.
	ErrAllocationFailure = errors.New("shm: allocation failure")
	// ErrNonExistingSegment means a segment was opened without create and is absent.
	ErrNonExistingSegment = errors.New("shm: non existing segment")
	// ErrUnexpectedSize means an object was accessed with a layout other than the registered one.
	ErrUnexpectedSize = errors.New("shm: unexpected size")
	// ErrMemoryOverflow means a bounded in-memory container is full.
	ErrMemoryOverflow = errors.New("shm: memory overflow")
	// ErrUndefinedLockState means a wait was attempted without holding the lock.
	ErrUndefinedLockState = errors.New("shm: undefined lock state")
	// ErrInvalidName means an identifier cannot be mapped to a file name.
	ErrInvalidName = errors.New("shm: invalid name")
	// ErrCorruptSegment means a segment header is not one this package wrote.
	ErrCorruptSegment = errors.New("shm: corrupt segment")
	// ErrClosed means the object was already closed.
	ErrClosed = errors.New("shm: closed")
)

// AllocationError is returned when writing Object would exceed the capacity of Segment.
type AllocationError struct {
	Segment string
	Object  string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("shared_memory: failed to allocate memory for %s in segment %s", e.Object, e.Segment)
}

func (e *AllocationError) Unwrap() error { return ErrAllocationFailure }

// NonExistingSegmentError is returned when Segment was opened with create=false and does not exist.
type NonExistingSegmentError struct {
	Segment string
}

func (e *NonExistingSegmentError) Error() string {
	return fmt.Sprintf("shared_memory: segment %s does not exist", e.Segment)
}

func (e *NonExistingSegmentError) Unwrap() error { return ErrNonExistingSegment }

// UnexpectedSizeError is returned when Object was registered with Expected
// elements and accessed with Given elements. The registration is evicted
// before the error is returned.
type UnexpectedSizeError struct {
	Segment  string
	Object   string
	Expected int
	Given    int
}

func (e *UnexpectedSizeError) Error() string {
	return fmt.Sprintf("shared_memory: object %s of segment %s has size %d, accessed with size %d",
		e.Object, e.Segment, e.Expected, e.Given)
}

func (e *UnexpectedSizeError) Unwrap() error { return ErrUnexpectedSize }

// MemoryOverflowError describes a full bounded container.
type MemoryOverflowError struct {
	Message string
}

func (e *MemoryOverflowError) Error() string {
	return "shared_memory: memory overflow: " + e.Message
}

func (e *MemoryOverflowError) Unwrap() error { return ErrMemoryOverflow }
