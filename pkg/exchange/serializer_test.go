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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Identifier int32
	Values     [4]int32
}

func TestBinarySerializer_RoundTrip(t *testing.T) {
	s, err := NewBinarySerializer[record]()
	require.NoError(t, err)
	assert.Equal(t, 20, s.Size())

	in := record{Identifier: 7, Values: [4]int32{1, -2, 3, 1 << 30}}
	b, err := s.Serialize(in)
	require.NoError(t, err)
	assert.Len(t, b, s.Size())
	out, err := s.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	other, err := s.Serialize(record{Identifier: 1})
	require.NoError(t, err)
	assert.Len(t, other, len(b), "every value serializes to the same size")

	_, err = s.Deserialize(b[:10])
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestBinarySerializer_ScalarsAndArrays(t *testing.T) {
	f, err := NewBinarySerializer[float64]()
	require.NoError(t, err)
	b, err := f.Serialize(3.25)
	require.NoError(t, err)
	v, err := f.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)

	a, err := NewBinarySerializer[[3]int16]()
	require.NoError(t, err)
	assert.Equal(t, 6, a.Size())
	b, err = a.Serialize([3]int16{-1, 0, 1})
	require.NoError(t, err)
	arr, err := a.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, [3]int16{-1, 0, 1}, arr)
}

func TestBinarySerializer_VariableSizeRejected(t *testing.T) {
	_, err := NewBinarySerializer[struct{ Name string }]()
	assert.ErrorIs(t, err, ErrFrameSize)
	_, err = NewBinarySerializer[[]int32]()
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestFrameAssembler(t *testing.T) {
	a := NewFrameAssembler(4)
	defer a.Release()

	_, ok := a.TryTake()
	assert.False(t, ok)

	a.Push([]byte{1, 2, 3})
	_, ok = a.TryTake()
	assert.False(t, ok)
	assert.Equal(t, 3, a.Buffered())

	a.PushByte(4)
	a.Push([]byte{5, 6, 7, 8, 9})
	frame, ok := a.TryTake()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, frame)
	frame, ok = a.TryTake()
	require.True(t, ok)
	assert.Equal(t, []byte{5, 6, 7, 8}, frame)
	_, ok = a.TryTake()
	assert.False(t, ok)
	assert.Equal(t, 1, a.Buffered())

	a.Push([]byte{10, 11, 12, 13, 14})
	assert.Equal(t, 2, a.DropPartial())
	assert.Equal(t, 4, a.Buffered())
	assert.Zero(t, a.DropPartial())

	a.Reset()
	assert.Zero(t, a.Buffered())
}

func TestFrameWriter(t *testing.T) {
	w := newFrameWriter(4)
	defer w.release()
	assert.True(t, w.empty())

	w.write([]byte{1, 2, 3, 4})
	w.write([]byte{5, 6, 7, 8})
	assert.False(t, w.advance(3))
	assert.Equal(t, []byte{4, 5, 6, 7, 8}, w.unsent())
	assert.False(t, w.advance(1))
	assert.Equal(t, []byte{5, 6, 7, 8}, w.unsent())
	assert.True(t, w.advance(4))
	assert.True(t, w.empty())
	assert.Empty(t, w.unsent())
}

func TestFrameWriterDropsPartialHead(t *testing.T) {
	w := newFrameWriter(4)
	defer w.release()
	assert.Zero(t, w.dropPartial())

	w.write([]byte{1, 2, 3, 4})
	w.write([]byte{5, 6, 7, 8})
	assert.False(t, w.advance(1))
	assert.Equal(t, 3, w.dropPartial())
	assert.Equal(t, []byte{5, 6, 7, 8}, w.unsent())
	assert.Zero(t, w.dropPartial(), "the next frame is untouched")

	assert.False(t, w.advance(2))
	assert.Equal(t, 2, w.dropPartial())
	assert.True(t, w.empty())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "RESET", StatusReset.String())
	assert.Equal(t, "WAITING", StatusWaiting.String())
	assert.Equal(t, "RUNNING", StatusRunning.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}

func TestVerifyOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, VerifyOptions(opts))
	opts.QueueSize = 0
	assert.Error(t, VerifyOptions(opts))
	opts = DefaultOptions()
	opts.LivenessTimeout = -1
	assert.Error(t, VerifyOptions(opts))
}
