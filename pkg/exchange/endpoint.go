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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/shm-exchange/pkg/shm"
)

// Item is a value carried by the channel. Its ID is echoed back to the
// producer once the consumer decoded it.
type Item interface {
	ID() int
}

// endpoint is the side independent part of a Producer or a Consumer.
type endpoint[T Item] struct {
	memory   *Memory[T]
	opts     Options
	producer bool
	closed   bool
	now      func() time.Time
	lastBeat time.Time
	// batch is set between Lock and Unlock
	batch bool
	// rejoining is set while a non leading side waits for the leading side
	// to acknowledge its arrival with a fresh channel
	rejoining bool
}

func newEndpoint[T Item](reg *shm.Registry, segmentID, objectID string, serializer Serializer[T],
	opts Options, producer bool) (*endpoint[T], error) {
	memory, err := NewMemory(reg, segmentID, objectID, serializer, opts)
	if err != nil {
		return nil, err
	}
	e := &endpoint[T]{memory: memory, opts: opts, producer: producer, now: time.Now}
	if err := e.beat(e.now()); err != nil {
		_ = memory.Close()
		return nil, err
	}
	if opts.Leading {
		err = e.reset()
	} else {
		err = e.announce()
	}
	if err != nil {
		_ = memory.Close()
		return nil, err
	}
	return e, nil
}

func (e *endpoint[T]) role() string {
	if e.producer {
		return "producer"
	}
	return "consumer"
}

// announce registers a non leading side. A WAITING leading side gets RUNNING
// back. Any other status may hide a previous peer whose partial frames are
// still in the rings, so a fresh channel is requested and the side holds its
// frames until the leading side answers with WAITING.
func (e *endpoint[T]) announce() error {
	status, err := e.memory.GetStatus()
	if err != nil {
		return err
	}
	if status == StatusWaiting {
		return e.memory.SetStatus(StatusRunning)
	}
	e.rejoining = true
	internalLogger.Debugf("%s %s/%s: requesting a fresh channel", e.role(), e.memory.segmentID, e.memory.objectID)
	return e.memory.SetStatus(StatusReset)
}

func (e *endpoint[T]) lock() error {
	if e.closed {
		return ErrClosed
	}
	if e.opts.Autolock && !e.batch {
		return e.memory.Lock()
	}
	return nil
}

func (e *endpoint[T]) unlock() {
	if e.opts.Autolock && !e.batch {
		if err := e.memory.Unlock(); err != nil {
			internalLogger.Warnf("%s %s/%s: unlock: %v", e.role(), e.memory.segmentID, e.memory.objectID, err)
		}
	}
}

// beat refreshes the heartbeat of this side, at most twice per
// LivenessTimeout, and only once when heartbeats are not checked.
func (e *endpoint[T]) beat(now time.Time) error {
	if !e.lastBeat.IsZero() {
		if e.opts.LivenessTimeout <= 0 || now.Sub(e.lastBeat) < e.opts.LivenessTimeout/2 {
			return nil
		}
	}
	if err := e.memory.Beat(e.producer, now); err != nil {
		return err
	}
	e.lastBeat = now
	return nil
}

// peerStale reports whether the peer heartbeat is older than LivenessTimeout.
func (e *endpoint[T]) peerStale(now time.Time) (bool, error) {
	if e.opts.LivenessTimeout <= 0 {
		return false, nil
	}
	beat, err := e.memory.Heartbeat(!e.producer)
	if err != nil {
		return false, err
	}
	return beat.IsZero() || now.Sub(beat) > e.opts.LivenessTimeout, nil
}

// ready advances the status machine and reports whether the peer is attached.
// The leading side resets the channel when the peer left or asked for it, the
// other side announces itself again when the leading side (re)started.
func (e *endpoint[T]) ready() (bool, error) {
	now := e.now()
	if err := e.beat(now); err != nil {
		return false, err
	}
	status, err := e.memory.GetStatus()
	if err != nil {
		return false, err
	}
	switch status {
	case StatusWaiting:
		if e.opts.Leading {
			return false, nil
		}
		if err := e.memory.SetStatus(StatusRunning); err != nil {
			return false, err
		}
		e.rejoining = false
		internalLogger.Debugf("%s %s/%s: announced to leading side", e.role(), e.memory.segmentID, e.memory.objectID)
		return true, nil
	case StatusRunning:
		if e.rejoining {
			return false, nil
		}
		stale, err := e.peerStale(now)
		if err != nil || !stale {
			return err == nil, err
		}
		if !e.opts.Leading {
			return false, nil
		}
		internalLogger.Warnf("%s %s/%s: peer heartbeat stale", e.role(), e.memory.segmentID, e.memory.objectID)
		return false, e.reset()
	case StatusReset:
		if e.opts.Leading {
			return false, e.reset()
		}
		return false, nil
	default:
		return false, fmt.Errorf("exchange: unknown status %d", int32(status))
	}
}

// reset gives the channel a fresh start under the exchange mutex and waits
// for the peer. Inside a Lock batch the mutex is already held.
func (e *endpoint[T]) reset() error {
	if e.closed {
		return ErrClosed
	}
	if !e.batch {
		if err := e.memory.Lock(); err != nil {
			return err
		}
		defer func() {
			if err := e.memory.Unlock(); err != nil {
				internalLogger.Warnf("%s %s/%s: unlock: %v", e.role(), e.memory.segmentID, e.memory.objectID, err)
			}
		}()
	}
	if err := e.memory.Reset(); err != nil {
		return err
	}
	return e.memory.SetStatus(StatusWaiting)
}

func (e *endpoint[T]) isReady() (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	return e.ready()
}

// Lock acquires the exchange mutex and opens a batch. Calls inside the batch
// do not take the mutex again, with or without Autolock.
func (e *endpoint[T]) Lock() error {
	if e.closed {
		return ErrClosed
	}
	if e.batch {
		return nil
	}
	if err := e.memory.Lock(); err != nil {
		return err
	}
	e.batch = true
	return nil
}

// Unlock closes the batch and releases the exchange mutex.
func (e *endpoint[T]) Unlock() error {
	e.batch = false
	return e.memory.Unlock()
}

// Clear drops the bytes in flight in the payload ring.
func (e *endpoint[T]) Clear() error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()
	e.memory.Clear()
	return nil
}

// ResetCharCount zeroes the byte counters.
func (e *endpoint[T]) ResetCharCount() { e.memory.ResetCharCount() }

// ProducerQueueEmpty reports whether the payload ring is empty.
func (e *endpoint[T]) ProducerQueueEmpty() bool { return e.memory.ProducerQueueEmpty() }

// ConsumerQueueEmpty reports whether the feedback ring is empty.
func (e *endpoint[T]) ConsumerQueueEmpty() bool { return e.memory.ConsumerQueueEmpty() }

// Status returns the shared channel status.
func (e *endpoint[T]) Status() (Status, error) { return e.memory.GetStatus() }

// LivenessCheck fails while the channel segment is missing.
func (e *endpoint[T]) LivenessCheck() healthcheck.Check {
	return func() error {
		if e.closed {
			return ErrClosed
		}
		if !e.memory.reg.SegmentExists(e.memory.segmentID) {
			return fmt.Errorf("segment %s: %w", e.memory.segmentID, shm.ErrNonExistingSegment)
		}
		return nil
	}
}

// ReadinessCheck fails while the peer is not attached.
func (e *endpoint[T]) ReadinessCheck() healthcheck.Check {
	return func() error {
		ok, err := e.isReady()
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotReady
		}
		return nil
	}
}

// RegisterHealth adds the liveness and readiness checks of this side to h under name.
func (e *endpoint[T]) RegisterHealth(h healthcheck.Handler, name string) {
	h.AddLivenessCheck(name, e.LivenessCheck())
	h.AddReadinessCheck(name, e.ReadinessCheck())
}

// poll calls done with growing pauses until it reports true or ctx ends.
func poll(ctx context.Context, done func() (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 0
	errPending := errors.New("pending")
	return backoff.Retry(func() error {
		ok, err := done()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errPending
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// close detaches this side. The leading side wipes the channel segment, the
// other side flags the channel for reset.
func (e *endpoint[T]) close() error {
	if e.closed {
		return ErrClosed
	}
	var err error
	if e.opts.Leading {
		err = e.memory.Clean()
	} else {
		err = e.memory.SetStatus(StatusReset)
	}
	if cerr := e.memory.Close(); err == nil {
		err = cerr
	}
	e.closed = true
	return err
}
