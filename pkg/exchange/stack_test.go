//go:build linux

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

	"github.com/srediag/shm-exchange/pkg/shm"
)

func TestStack_AddRemove(t *testing.T) {
	stack, err := NewStack[fourInts](newSerializer(t), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stack.Cap())
	assert.Equal(t, StackSize[fourInts](newSerializer(t), 3), len(stack.Data()))

	full, err := stack.Add(newFourInts(10))
	require.NoError(t, err)
	assert.False(t, full)
	_, err = stack.Add(newFourInts(11))
	require.NoError(t, err)
	full, err = stack.Add(newFourInts(12))
	require.NoError(t, err)
	assert.True(t, full)

	_, err = stack.Add(newFourInts(13))
	var overflow *shm.MemoryOverflowError
	require.ErrorAs(t, err, &overflow)
	require.ErrorIs(t, err, shm.ErrMemoryOverflow)
	assert.Equal(t, uint64(3), stack.Version())

	assert.Equal(t, []int{10, 11}, stack.Remove(2))
	assert.Equal(t, 1, stack.Len())
	assert.Nil(t, stack.Remove(0))
	assert.Equal(t, []int{12}, stack.Remove(5))
	assert.Zero(t, stack.Len())
	assert.Equal(t, uint64(5), stack.Version())

	_, err = NewStack[fourInts](newSerializer(t), 0)
	assert.Error(t, err)
}

func TestStack_PublishAndLoad(t *testing.T) {
	dir := t.TempDir()
	writer := newRegistry(t, dir)
	reader := newRegistry(t, dir)

	stack, err := NewStack[fourInts](newSerializer(t), 4)
	require.NoError(t, err)
	for id := 0; id < 3; id++ {
		_, err := stack.Add(newFourInts(id))
		require.NoError(t, err)
	}
	stack.Remove(1)
	require.NoError(t, stack.Publish(writer, "stacks", "pending"))

	version, items, err := LoadStack[fourInts](reader, "stacks", "pending", newSerializer(t), 4)
	require.NoError(t, err)
	assert.Equal(t, stack.Version(), version)
	assert.Equal(t, []fourInts{newFourInts(1), newFourInts(2)}, items)

	_, _, err = LoadStack[fourInts](reader, "stacks", "pending", newSerializer(t), 5)
	assert.ErrorIs(t, err, shm.ErrUnexpectedSize)
}
