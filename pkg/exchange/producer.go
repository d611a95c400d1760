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

// Producer is the writing side of a channel.
type Producer[T Item] struct {
	*endpoint[T]
}

// NewProducer attaches a producer to channel objectID of segmentID. A leading
// producer marks the channel WAITING, a non leading one marks it RUNNING.
func NewProducer[T Item](reg *shm.Registry, segmentID, objectID string, serializer Serializer[T], opts Options) (*Producer[T], error) {
	e, err := newEndpoint(reg, segmentID, objectID, serializer, opts, true)
	if err != nil {
		return nil, err
	}
	return &Producer[T]{endpoint: e}, nil
}

// ReadyToProduce reports whether a consumer is attached. A leading producer
// resets the channel when the consumer left.
func (p *Producer[T]) ReadyToProduce() (bool, error) {
	return p.isReady()
}

// Set queues v without blocking. It reports false when the payload ring was
// too full to take every pending byte; the rest goes out on later calls.
// A producer that asked for a fresh channel keeps v pending until
// ReadyToProduce saw the leading side answer.
func (p *Producer[T]) Set(v T) (bool, error) {
	if err := p.lock(); err != nil {
		return false, err
	}
	defer p.unlock()
	if p.rejoining {
		return false, p.memory.Enqueue(v)
	}
	return p.memory.WriteSerialized(v)
}

// Get appends the IDs of consumed items to dst, oldest first.
func (p *Producer[T]) Get(dst []int64) ([]int64, error) {
	if err := p.lock(); err != nil {
		return dst, err
	}
	defer p.unlock()
	return p.memory.GetConsumedIDs(dst), nil
}

// Pending returns the bytes not yet pushed into the payload ring.
func (p *Producer[T]) Pending() int { return p.memory.Pending() }

// NbCharWritten returns the bytes pushed since the last ResetCharCount.
func (p *Producer[T]) NbCharWritten() int { return p.memory.NbCharWritten() }

// Flush pushes pending bytes until none are left or ctx ends. A producer
// waiting for a fresh channel keeps polling ReadyToProduce first.
func (p *Producer[T]) Flush(ctx context.Context) error {
	return poll(ctx, func() (bool, error) {
		if p.rejoining {
			if _, err := p.isReady(); err != nil || p.rejoining {
				return false, err
			}
		}
		if err := p.lock(); err != nil {
			return false, err
		}
		defer p.unlock()
		return p.memory.Flush(), nil
	})
}

// Close detaches the producer. A leading producer wipes the segment, a non
// leading one flags the channel for reset.
func (p *Producer[T]) Close() error {
	return p.close()
}
