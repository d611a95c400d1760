/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package queue provides bounded single-producer single-consumer rings laid
// over shared memory, and the process-local FIFO used when a ring is full.
package queue

import (
	"errors"
	"fmt"
	"unsafe"

	internalshm "github.com/srediag/shm-exchange/internal/shm"
	"github.com/srediag/shm-exchange/pkg/shm"
)

// Ring header: the read index and the write index sit on separate cache
// lines. Both grow monotonically, the slot of index i is i % capacity.
const (
	queueHeaderLength = 128
	offRead           = 0
	offWrite          = 64
)

var (
	// ErrQueueTooSmall is returned when the memory cannot hold a single element.
	ErrQueueTooSmall = errors.New("queue: memory too small")
	// ErrQueueUnaligned is returned when the memory is not 8-aligned.
	ErrQueueUnaligned = errors.New("queue: memory not aligned")
	// ErrQueueReset is returned, with nothing moved, by the first push or pop
	// of a handle after another handle reset the queue. The handle is in sync
	// again afterwards.
	ErrQueueReset = errors.New("queue: reset by another handle")
)

// Queue is a bounded lock-free ring of T shared by exactly one producer and
// one consumer, which may live in different processes. The producer only
// moves the write index and the consumer only moves the read index.
// Zero filled memory is an empty queue.
//
// Each handle remembers where it left its own index. An index found
// elsewhere means the queue was reset in between, which is reported as
// ErrQueueReset instead of splicing data of two generations.
type Queue[T shm.Scalar] struct {
	mem      []byte
	capacity uint64
	elemSize int

	readCursor  uint64
	writeCursor uint64
}

// ByteQueue carries serialized payload bytes.
type ByteQueue = Queue[byte]

// IDQueue carries feedback identifiers.
type IDQueue = Queue[int64]

// MemSize returns the bytes needed for a queue of capacity elements of T.
func MemSize[T shm.Scalar](capacity int) int {
	var zero T
	return queueHeaderLength + capacity*int(unsafe.Sizeof(zero))
}

// FromBytes lays a queue over mem. The capacity is derived from len(mem).
func FromBytes[T shm.Scalar](mem []byte) (*Queue[T], error) {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if len(mem) < queueHeaderLength+elemSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrQueueTooSmall, len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, ErrQueueUnaligned
	}
	q := &Queue[T]{
		mem:      mem,
		capacity: uint64((len(mem) - queueHeaderLength) / elemSize),
		elemSize: elemSize,
	}
	q.readCursor, q.writeCursor = q.read(), q.write()
	return q, nil
}

// Register lays a queue over the object objectID of segment, registering it
// zero filled when it does not exist yet.
func Register[T shm.Scalar](segment *shm.Segment, objectID string, capacity int) (*Queue[T], error) {
	obj, err := segment.Register(objectID, 1, MemSize[T](capacity))
	if err != nil {
		return nil, err
	}
	return FromBytes[T](obj.Data)
}

func (q *Queue[T]) slot(i uint64) *T {
	off := queueHeaderLength + int(i%q.capacity)*q.elemSize
	return (*T)(unsafe.Pointer(&q.mem[off]))
}

func (q *Queue[T]) read() uint64 { return internalshm.AtomicLoadUint64(q.mem, offRead) }

func (q *Queue[T]) write() uint64 { return internalshm.AtomicLoadUint64(q.mem, offWrite) }

// Capacity returns the maximum number of elements in flight.
func (q *Queue[T]) Capacity() int { return int(q.capacity) }

// Len returns the number of elements in flight. It is exact only when called
// from the producer or the consumer side while the other side is idle.
func (q *Queue[T]) Len() int {
	r, w := q.read(), q.write()
	if w < r {
		return 0
	}
	return int(w - r)
}

// Empty reports whether no element is in flight.
func (q *Queue[T]) Empty() bool { return q.Len() == 0 }

// reserve returns the write index and the free room for the producer side.
func (q *Queue[T]) reserve() (uint64, uint64, error) {
	w := q.write()
	if w != q.writeCursor {
		q.writeCursor = w
		return 0, 0, ErrQueueReset
	}
	r := q.read()
	if r > w {
		// reset in progress
		return w, 0, nil
	}
	return w, q.capacity - (w - r), nil
}

// publish moves the write index from w to w+n unless a reset moved it first.
func (q *Queue[T]) publish(w, n uint64) error {
	if !internalshm.AtomicCompareAndSwapUint64(q.mem, offWrite, w, w+n) {
		q.writeCursor = q.write()
		return ErrQueueReset
	}
	q.writeCursor = w + n
	return nil
}

// BoundedPush appends v, reporting false without blocking when the queue is full.
// Only the producer side calls it.
func (q *Queue[T]) BoundedPush(v T) (bool, error) {
	w, free, err := q.reserve()
	if err != nil || free == 0 {
		return false, err
	}
	*q.slot(w) = v
	if err := q.publish(w, 1); err != nil {
		return false, err
	}
	return true, nil
}

// Push appends as many leading elements of vs as fit and returns how many did.
// Only the producer side calls it.
func (q *Queue[T]) Push(vs []T) (int, error) {
	w, free, err := q.reserve()
	if err != nil {
		return 0, err
	}
	n := min(uint64(len(vs)), free)
	if n == 0 {
		return 0, nil
	}
	for i := uint64(0); i < n; i++ {
		*q.slot(w + i) = vs[i]
	}
	if err := q.publish(w, n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// available returns the read index and the number of readable elements for
// the consumer side.
func (q *Queue[T]) available() (uint64, uint64, error) {
	r := q.read()
	if r != q.readCursor {
		q.readCursor = r
		return 0, 0, ErrQueueReset
	}
	w := q.write()
	if w <= r {
		return r, 0, nil
	}
	return r, w - r, nil
}

// consume moves the read index from r to r+n unless a reset moved it first.
func (q *Queue[T]) consume(r, n uint64) error {
	if !internalshm.AtomicCompareAndSwapUint64(q.mem, offRead, r, r+n) {
		q.readCursor = q.read()
		return ErrQueueReset
	}
	q.readCursor = r + n
	return nil
}

// Pop removes the oldest element, reporting false without blocking when the
// queue is empty. Only the consumer side calls it.
func (q *Queue[T]) Pop() (T, bool, error) {
	var zero T
	r, n, err := q.available()
	if err != nil || n == 0 {
		return zero, false, err
	}
	v := *q.slot(r)
	if err := q.consume(r, 1); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// PopInto moves up to len(dst) of the oldest elements into dst and returns how
// many it moved. Only the consumer side calls it.
func (q *Queue[T]) PopInto(dst []T) (int, error) {
	r, n, err := q.available()
	if err != nil {
		return 0, err
	}
	n = min(n, uint64(len(dst)))
	if n == 0 {
		return 0, nil
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = *q.slot(r + i)
	}
	if err := q.consume(r, n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Discard drops every element in flight and returns how many were dropped.
// Only the consumer side calls it.
func (q *Queue[T]) Discard() (int, error) {
	r, n, err := q.available()
	if err != nil || n == 0 {
		return 0, err
	}
	if err := q.consume(r, n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Reset empties the queue from either side. Both indices jump to a base no
// peer store can produce: the write index past anything a producer racing
// the reset could publish, the read index past the old write index. The
// read index moves first so a racing producer sees no free room until the
// write index follows. Peers learn about it through ErrQueueReset.
func (q *Queue[T]) Reset() {
	base := max(q.write(), q.read()) + q.capacity + 1
	internalshm.AtomicStoreUint64(q.mem, offRead, base)
	internalshm.AtomicStoreUint64(q.mem, offWrite, base)
	q.readCursor, q.writeCursor = base, base
}
