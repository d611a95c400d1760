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

	"github.com/srediag/shm-exchange/pkg/shm"
)

// Consumer is the reading side of a channel.
type Consumer[T Item] struct {
	*endpoint[T]
}

// NewConsumer attaches a consumer to channel objectID of segmentID. A leading
// consumer marks the channel WAITING, a non leading one marks it RUNNING.
func NewConsumer[T Item](reg *shm.Registry, segmentID, objectID string, serializer Serializer[T], opts Options) (*Consumer[T], error) {
	e, err := newEndpoint(reg, segmentID, objectID, serializer, opts, false)
	if err != nil {
		return nil, err
	}
	return &Consumer[T]{endpoint: e}, nil
}

// ReadyToConsume reports whether a producer is attached. A leading consumer
// resets the channel when the producer left.
func (c *Consumer[T]) ReadyToConsume() (bool, error) {
	return c.isReady()
}

// Consume decodes the next item without blocking and acknowledges its ID to
// the producer. It reports false when no complete item is available. While no
// producer is attached it reports false, or ErrNotReady with StrictConsume.
func (c *Consumer[T]) Consume() (T, bool, error) {
	var zero T
	ready, err := c.isReady()
	if err != nil {
		return zero, false, err
	}
	if !ready {
		if c.opts.StrictConsume {
			return zero, false, ErrNotReady
		}
		return zero, false, nil
	}

	if err := c.lock(); err != nil {
		return zero, false, err
	}
	defer c.unlock()
	v, ok, err := c.memory.ReadSerialized()
	if err != nil || !ok {
		return zero, false, err
	}
	if err := c.memory.WriteSerializedID(int64(v.ID())); err != nil {
		return v, true, err
	}
	return v, true, nil
}

// PurgeFeedbacks pushes buffered feedback IDs and reports whether none are
// left. Poll it before exiting so the producer gets every acknowledgement.
func (c *Consumer[T]) PurgeFeedbacks() (bool, error) {
	if err := c.lock(); err != nil {
		return false, err
	}
	defer c.unlock()
	return c.memory.PurgeFeedbacks(), nil
}

// Drain polls PurgeFeedbacks until it succeeds or ctx ends.
func (c *Consumer[T]) Drain(ctx context.Context) error {
	return poll(ctx, c.PurgeFeedbacks)
}

// NbCharRead returns the bytes popped since the last ResetCharCount.
func (c *Consumer[T]) NbCharRead() int { return c.memory.NbCharRead() }

// Close detaches the consumer. A leading consumer wipes the segment, a non
// leading one flags the channel for reset.
func (c *Consumer[T]) Close() error {
	return c.close()
}
