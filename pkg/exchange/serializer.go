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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// Serializer converts items of type T to byte strings whose length is the
// same for every value of T.
type Serializer[T any] interface {
	// Size returns the length of every serialized T.
	Size() int
	Serialize(v T) ([]byte, error)
	Deserialize(b []byte) (T, error)
}

// BinarySerializer encodes fixed size values, such as structs of numbers and
// arrays, with encoding/binary in little endian order.
type BinarySerializer[T any] struct {
	size int
	pool bytebufferpool.Pool
}

// NewBinarySerializer returns a BinarySerializer for T, failing when T has no
// fixed encoded size.
func NewBinarySerializer[T any]() (*BinarySerializer[T], error) {
	var zero T
	size := binary.Size(zero)
	if size <= 0 {
		return nil, fmt.Errorf("%w: %T has no fixed binary size", ErrFrameSize, zero)
	}
	return &BinarySerializer[T]{size: size}, nil
}

// Size returns the encoded size of T.
func (s *BinarySerializer[T]) Size() int { return s.size }

// Serialize encodes v.
func (s *BinarySerializer[T]) Serialize(v T) ([]byte, error) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}

// Deserialize decodes b, which must hold exactly Size bytes.
func (s *BinarySerializer[T]) Deserialize(b []byte) (T, error) {
	var v T
	if len(b) != s.size {
		return v, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(b), s.size)
	}
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &v)
	return v, err
}
