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

package queue

import (
	"fmt"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// default hint is 64, which holds a burst of feedback before growing.
const defaultOverflowHint = 64

// Overflow is an unbounded process-local FIFO holding elements a full ring
// could not take yet. It is owned by a single goroutine at a time.
type Overflow[T any] struct {
	q *queuepkg.Queue
}

// NewOverflow returns an empty Overflow.
func NewOverflow[T any]() *Overflow[T] {
	return &Overflow[T]{q: queuepkg.New(defaultOverflowHint)}
}

// Put appends v.
func (o *Overflow[T]) Put(v T) error {
	return o.q.Put(v)
}

// Peek returns the oldest element without removing it.
func (o *Overflow[T]) Peek() (T, bool) {
	var zero T
	if o.q.Empty() {
		return zero, false
	}
	item, err := o.q.Peek()
	if err != nil {
		return zero, false
	}
	v, ok := item.(T)
	return v, ok
}

// Pop removes and returns the oldest element.
func (o *Overflow[T]) Pop() (T, bool, error) {
	var zero T
	if o.q.Empty() {
		return zero, false, nil
	}
	items, err := o.q.Get(1)
	if err != nil || len(items) == 0 {
		return zero, false, err
	}
	v, ok := items[0].(T)
	if !ok {
		return zero, false, fmt.Errorf("invalid overflow element type %T", items[0])
	}
	return v, true, nil
}

// Len returns the number of buffered elements.
func (o *Overflow[T]) Len() int { return int(o.q.Len()) }

// Empty reports whether nothing is buffered.
func (o *Overflow[T]) Empty() bool { return o.q.Empty() }

// Dispose releases the FIFO. Later calls fail with queue.ErrDisposed.
func (o *Overflow[T]) Dispose() {
	o.q.Dispose()
}
