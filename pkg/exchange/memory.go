/*
 * Copyright 2025 SREDiag Authors
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

package exchange

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/srediag/shm-exchange/internal/logger"
	"github.com/srediag/shm-exchange/pkg/queue"
	"github.com/srediag/shm-exchange/pkg/shm"
)

var internalLogger = logger.New("exchange", os.Stdout)

const (
	producerSuffix          = "_producer"
	consumerSuffix          = "_consumer"
	statusSuffix            = "_status"
	producerHeartbeatSuffix = "_producer_heartbeat"
	consumerHeartbeatSuffix = "_consumer_heartbeat"
	resetSuffix             = "_reset"
	mutexSuffix             = "_mutex"

	popChunk = 512
)

// Memory is the shared state of one channel as seen from one process: the
// payload ring, the feedback ring, the status and heartbeat objects, and the
// process-local write, reassembly and feedback buffers.
// A Memory is not safe for concurrent use by several goroutines.
type Memory[T any] struct {
	reg       *shm.Registry
	segmentID string
	objectID  string
	segment   *shm.Segment
	mutex     *shm.Mutex

	produced *queue.ByteQueue
	consumed *queue.IDQueue

	serializer Serializer[T]
	writer     *frameWriter
	assembler  *FrameAssembler
	feedback   *queue.Overflow[int64]
	scratch    []byte

	nbCharWritten int
	nbCharRead    int

	metrics *channelMetrics
}

// NewMemory attaches to the channel objectID of segmentID, creating the
// segment and its objects when needed.
func NewMemory[T any](reg *shm.Registry, segmentID, objectID string, serializer Serializer[T], opts Options) (*Memory[T], error) {
	if err := VerifyOptions(opts); err != nil {
		return nil, err
	}
	if serializer.Size() <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ErrFrameSize, serializer.Size())
	}
	segment, err := reg.GetSegment(segmentID, false, true)
	if err != nil {
		return nil, err
	}
	produced, err := queue.Register[byte](segment, objectID+producerSuffix, opts.QueueSize)
	if err != nil {
		return nil, err
	}
	consumed, err := queue.Register[int64](segment, objectID+consumerSuffix, opts.QueueSize)
	if err != nil {
		return nil, err
	}
	metrics, err := newChannelMetrics(opts.Registerer, segmentID, objectID)
	if err != nil {
		return nil, err
	}
	mutex, err := shm.NewMutex(reg, MutexID(segmentID, objectID), false)
	if err != nil {
		return nil, err
	}
	return &Memory[T]{
		reg:        reg,
		segmentID:  segmentID,
		objectID:   objectID,
		segment:    segment,
		mutex:      mutex,
		produced:   produced,
		consumed:   consumed,
		serializer: serializer,
		writer:     newFrameWriter(serializer.Size()),
		assembler:  NewFrameAssembler(serializer.Size()),
		feedback:   queue.NewOverflow[int64](),
		scratch:    make([]byte, popChunk),
		metrics:    metrics,
	}, nil
}

// MutexID returns the identifier of the mutex guarding channel objectID of segmentID.
func MutexID(segmentID, objectID string) string {
	return segmentID + "_" + objectID + mutexSuffix
}

// Lock acquires the exchange mutex.
func (m *Memory[T]) Lock() error { return m.mutex.Lock() }

// Unlock releases the exchange mutex.
func (m *Memory[T]) Unlock() error { return m.mutex.Unlock() }

// Enqueue serializes v behind any bytes still pending without pushing
// anything. A serialized size other than the frame size is reported as
// ErrFrameSize.
func (m *Memory[T]) Enqueue(v T) error {
	frame, err := m.serializer.Serialize(v)
	if err != nil {
		return err
	}
	if len(frame) != m.assembler.FrameSize() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), m.assembler.FrameSize())
	}
	m.writer.write(frame)
	m.metrics.framesWritten.Inc()
	return nil
}

// WriteSerialized enqueues v and pushes as much as the payload ring takes.
// It reports whether everything was sent; unsent bytes stay pending and go
// first on the next call.
func (m *Memory[T]) WriteSerialized(v T) (bool, error) {
	if err := m.Enqueue(v); err != nil {
		return false, err
	}
	return m.Flush(), nil
}

// Flush pushes pending bytes and reports whether none are left. After a
// reset of the payload ring the rest of a partially sent frame is dropped,
// so the new generation starts on a frame boundary.
func (m *Memory[T]) Flush() bool {
	for !m.writer.empty() {
		n, err := m.produced.Push(m.writer.unsent())
		if errors.Is(err, queue.ErrQueueReset) {
			dropped := m.writer.dropPartial()
			internalLogger.Infof("channel %s/%s: payload ring reset, dropped %d bytes of a partial frame",
				m.segmentID, m.objectID, dropped)
			continue
		}
		m.nbCharWritten += n
		m.metrics.bytesWritten.Add(float64(n))
		return m.writer.advance(n)
	}
	return true
}

// Pending returns the number of bytes waiting for room in the payload ring.
func (m *Memory[T]) Pending() int { return len(m.writer.unsent()) }

// ReadSerialized drains the payload ring into the reassembly buffer and
// decodes the oldest complete frame, if any. After a reset of the payload
// ring the incomplete trailing frame is dropped before new bytes come in.
func (m *Memory[T]) ReadSerialized() (T, bool, error) {
	for {
		n, err := m.produced.PopInto(m.scratch)
		if errors.Is(err, queue.ErrQueueReset) {
			dropped := m.assembler.DropPartial()
			internalLogger.Infof("channel %s/%s: payload ring reset, dropped %d bytes of a partial frame",
				m.segmentID, m.objectID, dropped)
			continue
		}
		if n == 0 {
			break
		}
		m.assembler.Push(m.scratch[:n])
		m.nbCharRead += n
		m.metrics.bytesRead.Add(float64(n))
	}
	var zero T
	frame, ok := m.assembler.TryTake()
	if !ok {
		return zero, false, nil
	}
	v, err := m.serializer.Deserialize(frame)
	if err != nil {
		return zero, false, err
	}
	m.metrics.framesRead.Inc()
	return v, true, nil
}

// pushID pushes id into the feedback ring. Buffered IDs of a generation the
// ring was reset away from are dropped.
func (m *Memory[T]) pushID(id int64) bool {
	ok, err := m.consumed.BoundedPush(id)
	if errors.Is(err, queue.ErrQueueReset) {
		m.dropFeedback()
		ok, err = m.consumed.BoundedPush(id)
	}
	return ok && err == nil
}

// WriteSerializedID sends id to the producer side. IDs the feedback ring
// cannot take are buffered and sent first on later calls.
func (m *Memory[T]) WriteSerializedID(id int64) error {
	if m.PurgeFeedbacks() && m.pushID(id) {
		return nil
	}
	if err := m.feedback.Put(id); err != nil {
		return err
	}
	m.metrics.feedbackPending.Set(float64(m.feedback.Len()))
	return nil
}

// PurgeFeedbacks pushes buffered feedback IDs in order and reports whether
// none are left.
func (m *Memory[T]) PurgeFeedbacks() bool {
	defer func() { m.metrics.feedbackPending.Set(float64(m.feedback.Len())) }()
	for {
		id, ok := m.feedback.Peek()
		if !ok {
			return true
		}
		pushed, err := m.consumed.BoundedPush(id)
		if errors.Is(err, queue.ErrQueueReset) {
			m.dropFeedback()
			return true
		}
		if !pushed {
			return false
		}
		if _, _, err := m.feedback.Pop(); err != nil {
			internalLogger.Errorf("channel %s/%s: feedback buffer: %v", m.segmentID, m.objectID, err)
			return false
		}
	}
}

func (m *Memory[T]) dropFeedback() {
	dropped := 0
	for !m.feedback.Empty() {
		if _, _, err := m.feedback.Pop(); err != nil {
			break
		}
		dropped++
	}
	m.metrics.feedbackPending.Set(0)
	if dropped > 0 {
		internalLogger.Infof("channel %s/%s: feedback ring reset, dropped %d buffered IDs",
			m.segmentID, m.objectID, dropped)
	}
}

// GetConsumedIDs appends every available feedback ID to dst, oldest first.
func (m *Memory[T]) GetConsumedIDs(dst []int64) []int64 {
	for {
		id, ok, err := m.consumed.Pop()
		if errors.Is(err, queue.ErrQueueReset) {
			continue
		}
		if !ok {
			return dst
		}
		dst = append(dst, id)
	}
}

// SetStatus stores s in the status object.
func (m *Memory[T]) SetStatus(s Status) error {
	return shm.Set(m.reg, m.segmentID, m.objectID+statusSuffix, int32(s))
}

// GetStatus loads the status object. A fresh channel is StatusReset.
func (m *Memory[T]) GetStatus() (Status, error) {
	s, err := shm.Get[int32](m.reg, m.segmentID, m.objectID+statusSuffix)
	return Status(s), err
}

func heartbeatObject(objectID string, producer bool) string {
	if producer {
		return objectID + producerHeartbeatSuffix
	}
	return objectID + consumerHeartbeatSuffix
}

// Beat records now as the heartbeat of the producer or the consumer side.
func (m *Memory[T]) Beat(producer bool, now time.Time) error {
	return shm.Set(m.reg, m.segmentID, heartbeatObject(m.objectID, producer), now.UnixNano())
}

// Heartbeat returns the last heartbeat of the producer or the consumer side,
// the zero time if it never beat.
func (m *Memory[T]) Heartbeat(producer bool) (time.Time, error) {
	ns, err := shm.Get[int64](m.reg, m.segmentID, heartbeatObject(m.objectID, producer))
	if err != nil || ns == 0 {
		return time.Time{}, err
	}
	return time.Unix(0, ns), nil
}

// Reset empties both rings for both sides and bumps the reset counter. Local
// partial frames and buffered feedback IDs are dropped, whole frames still
// pending are kept. Peers drop their own partial frames on their next ring
// operation. Only the leading side calls it, holding the exchange mutex.
func (m *Memory[T]) Reset() error {
	m.produced.Reset()
	m.consumed.Reset()
	m.writer.dropPartial()
	m.assembler.DropPartial()
	m.dropFeedback()
	m.metrics.resets.Inc()
	count, err := m.Resets()
	if err != nil {
		return err
	}
	internalLogger.Infof("channel %s/%s reset", m.segmentID, m.objectID)
	return shm.Set(m.reg, m.segmentID, m.objectID+resetSuffix, count+1)
}

// Resets returns how many times the channel was reset.
func (m *Memory[T]) Resets() (uint64, error) {
	return shm.Get[uint64](m.reg, m.segmentID, m.objectID+resetSuffix)
}

// Clear drops every byte in flight in the payload ring, for both sides.
func (m *Memory[T]) Clear() {
	m.produced.Reset()
	m.writer.dropPartial()
	m.assembler.DropPartial()
}

// ProducerQueueEmpty reports whether the payload ring is empty.
func (m *Memory[T]) ProducerQueueEmpty() bool { return m.produced.Empty() }

// ConsumerQueueEmpty reports whether the feedback ring is empty.
func (m *Memory[T]) ConsumerQueueEmpty() bool { return m.consumed.Empty() }

// NbCharWritten returns the bytes pushed since the last ResetCharCount.
func (m *Memory[T]) NbCharWritten() int { return m.nbCharWritten }

// NbCharRead returns the bytes popped since the last ResetCharCount.
func (m *Memory[T]) NbCharRead() int { return m.nbCharRead }

// ResetCharCount zeroes both byte counters.
func (m *Memory[T]) ResetCharCount() {
	m.nbCharWritten = 0
	m.nbCharRead = 0
}

// Clean wipes the segment and the exchange mutex for every process.
func (m *Memory[T]) Clean() error {
	if err := CleanMutex(m.reg, m.segmentID, m.objectID); err != nil {
		return err
	}
	return CleanMemory(m.reg, m.segmentID)
}

// Close releases the local handles. Shared objects are left in place.
func (m *Memory[T]) Close() error {
	err := m.mutex.Close()
	m.feedback.Dispose()
	m.writer.release()
	m.assembler.Release()
	return err
}

// CleanMutex removes the exchange mutex of channel objectID of segmentID,
// for instance after a crash.
func CleanMutex(reg *shm.Registry, segmentID, objectID string) error {
	return shm.CleanMutex(reg, MutexID(segmentID, objectID))
}

// CleanMemory unlinks segmentID and drops the local handle.
func CleanMemory(reg *shm.Registry, segmentID string) error {
	return reg.ClearSharedMemory(segmentID)
}
