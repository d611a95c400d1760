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

	"github.com/stretchr/testify/require"

	"github.com/srediag/shm-exchange/pkg/shm"
)

// fourInts is a fixed size record of four values and an ID.
type fourInts struct {
	Identifier int32
	Values     [4]int32
}

func (f fourInts) ID() int { return int(f.Identifier) }

func newFourInts(id int) fourInts {
	return fourInts{Identifier: int32(id), Values: [4]int32{1, 1, 1, 1}}
}

// newRegistry returns an isolated registry on dir, standing for one process.
func newRegistry(t *testing.T, dir string) *shm.Registry {
	t.Helper()
	cfg := shm.DefaultConfig()
	cfg.Dir = dir
	reg, err := shm.NewRegistry(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAllSegments() })
	return reg
}

func newSerializer(t *testing.T) *BinarySerializer[fourInts] {
	t.Helper()
	s, err := NewBinarySerializer[fourInts]()
	require.NoError(t, err)
	return s
}

// badSerializer claims one size and produces another.
type badSerializer struct {
	*BinarySerializer[fourInts]
}

func (b badSerializer) Serialize(v fourInts) ([]byte, error) {
	out, err := b.BinarySerializer.Serialize(v)
	return append(out, 0), err
}
