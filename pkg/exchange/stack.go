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
	"encoding/binary"
	"fmt"

	"github.com/srediag/shm-exchange/pkg/shm"
)

const stackHeaderSize = 16

// Stack is a bounded container of serialized items kept in one flat buffer
// that can be published to a segment object and loaded by another process.
// The buffer starts with a version, bumped on every change, and the item count.
type Stack[T Item] struct {
	serializer Serializer[T]
	maxItems   int
	data       []byte
	ids        []int
	version    uint64
}

// NewStack returns an empty Stack holding at most maxItems items.
func NewStack[T Item](serializer Serializer[T], maxItems int) (*Stack[T], error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("stack capacity must be positive, got %d", maxItems)
	}
	s := &Stack[T]{
		serializer: serializer,
		maxItems:   maxItems,
		data:       make([]byte, StackSize(serializer, maxItems)),
	}
	s.writeHeader()
	return s, nil
}

// StackSize returns the size of the buffer of a Stack of maxItems items.
func StackSize[T any](serializer Serializer[T], maxItems int) int {
	return stackHeaderSize + maxItems*serializer.Size()
}

func (s *Stack[T]) writeHeader() {
	binary.LittleEndian.PutUint64(s.data[0:], s.version)
	binary.LittleEndian.PutUint64(s.data[8:], uint64(len(s.ids)))
}

// Add appends v and reports whether the stack is full afterwards. Adding to
// a full stack fails with a MemoryOverflowError.
func (s *Stack[T]) Add(v T) (bool, error) {
	if len(s.ids) >= s.maxItems {
		return true, &shm.MemoryOverflowError{Message: "serializable stack full when adding a new item"}
	}
	frame, err := s.serializer.Serialize(v)
	if err != nil {
		return false, err
	}
	size := s.serializer.Size()
	if len(frame) != size {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), size)
	}
	copy(s.data[stackHeaderSize+len(s.ids)*size:], frame)
	s.ids = append(s.ids, v.ID())
	s.version++
	s.writeHeader()
	return len(s.ids) == s.maxItems, nil
}

// Remove drops the n oldest items and returns their IDs.
func (s *Stack[T]) Remove(n int) []int {
	n = min(max(n, 0), len(s.ids))
	if n == 0 {
		return nil
	}
	removed := append([]int(nil), s.ids[:n]...)
	size := s.serializer.Size()
	items := s.data[stackHeaderSize:]
	copy(items, items[n*size:len(s.ids)*size])
	s.ids = append(s.ids[:0], s.ids[n:]...)
	s.version++
	s.writeHeader()
	return removed
}

// Len returns the number of items held.
func (s *Stack[T]) Len() int { return len(s.ids) }

// Cap returns the maximum number of items.
func (s *Stack[T]) Cap() int { return s.maxItems }

// Version returns the change counter.
func (s *Stack[T]) Version() uint64 { return s.version }

// Data returns the flat buffer. It aliases the stack.
func (s *Stack[T]) Data() []byte { return s.data }

// Publish writes the buffer into object objectID of segmentID.
func (s *Stack[T]) Publish(reg *shm.Registry, segmentID, objectID string) error {
	return shm.SetArray(reg, segmentID, objectID, s.data)
}

// LoadStack reads a Stack published by another process and returns its
// version and items, oldest first.
func LoadStack[T Item](reg *shm.Registry, segmentID, objectID string, serializer Serializer[T], maxItems int) (uint64, []T, error) {
	data, err := shm.GetArray[byte](reg, segmentID, objectID, StackSize(serializer, maxItems))
	if err != nil {
		return 0, nil, err
	}
	version := binary.LittleEndian.Uint64(data[0:])
	n := int(binary.LittleEndian.Uint64(data[8:]))
	if n > maxItems {
		return 0, nil, fmt.Errorf("stack %s/%s holds %d items, capacity %d", segmentID, objectID, n, maxItems)
	}
	size := serializer.Size()
	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		off := stackHeaderSize + i*size
		v, err := serializer.Deserialize(data[off : off+size])
		if err != nil {
			return 0, nil, err
		}
		items = append(items, v)
	}
	return version, items, nil
}
