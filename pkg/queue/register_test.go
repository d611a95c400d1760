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

package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srediag/shm-exchange/pkg/shm"
)

func TestRegisterSharesRingAcrossRegistries(t *testing.T) {
	dir := t.TempDir()
	open := func() *shm.Segment {
		cfg := shm.DefaultConfig()
		cfg.Dir = dir
		reg, err := shm.NewRegistry(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = reg.DeleteAllSegments() })
		seg, err := reg.GetSegment("queues", false, true)
		require.NoError(t, err)
		return seg
	}

	producer, err := Register[byte](open(), "payload", 32)
	require.NoError(t, err)
	consumer, err := Register[byte](open(), "payload", 32)
	require.NoError(t, err)
	require.Equal(t, 32, consumer.Capacity())

	_, ok, err := consumer.Pop()
	require.NoError(t, err)
	require.False(t, ok)

	n, err := producer.Push([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	dst := make([]byte, 8)
	n, err = consumer.PopInto(dst)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(dst[:5]))

	_, err = Register[byte](open(), "payload", 64)
	require.ErrorIs(t, err, shm.ErrUnexpectedSize)
}
