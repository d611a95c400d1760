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

// Package exchange implements a bounded, crash tolerant channel between one
// producer process and one consumer process. Items are serialized to fixed
// size frames pushed through a shared memory byte ring, and the consumer
// acknowledges each item by pushing its ID through a second ring.
package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status is the channel state stored in the "<object>_status" segment object.
type Status int32

const (
	// StatusReset means a non leading side left. The leading side resets the channel.
	StatusReset Status = iota
	// StatusWaiting means the leading side waits for its peer.
	StatusWaiting
	// StatusRunning means both sides are attached.
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusReset:
		return "RESET"
	case StatusWaiting:
		return "WAITING"
	case StatusRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// DefaultQueueSize is the capacity of each ring unless configured otherwise.
const DefaultQueueSize = 2048

var (
	// ErrNotReady is returned by a strict Consume while no producer is attached.
	ErrNotReady = errors.New("exchange: peer not ready")
	// ErrFrameSize is returned when an item does not serialize to the frame size of its type.
	ErrFrameSize = errors.New("exchange: serialized item of unexpected size")
	// ErrClosed is returned by calls on a closed producer or consumer.
	ErrClosed = errors.New("exchange: closed")
)

// Options configures a Producer or a Consumer.
type Options struct {
	// QueueSize is the capacity, in elements, of the payload and feedback rings.
	// Both sides must agree on it.
	QueueSize int
	// Autolock takes the exchange mutex around every call. Without it callers
	// bracket batches with Lock and Unlock.
	Autolock bool
	// Leading marks the side that resets the channel when its peer leaves and
	// wipes the segment on Close.
	Leading bool
	// StrictConsume makes Consume return ErrNotReady instead of false while
	// no producer is attached.
	StrictConsume bool
	// LivenessTimeout is the age after which the peer heartbeat is stale.
	// Zero disables heartbeat checks. Both sides must agree on it, and each
	// side must call its Ready method at least every LivenessTimeout/2.
	LivenessTimeout time.Duration
	// Registerer receives the channel metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// DefaultOptions returns autolocking, non leading Options.
func DefaultOptions() Options {
	return Options{
		QueueSize: DefaultQueueSize,
		Autolock:  true,
	}
}

// VerifyOptions reports the first invalid field of opts.
func VerifyOptions(opts Options) error {
	if opts.QueueSize <= 0 {
		return fmt.Errorf("QueueSize must be positive, got %d", opts.QueueSize)
	}
	if opts.LivenessTimeout < 0 {
		return fmt.Errorf("LivenessTimeout must not be negative, got %s", opts.LivenessTimeout)
	}
	return nil
}
