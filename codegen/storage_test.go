// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package codegen

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *RoutineStorage {
	t.Helper()
	s, err := NewRoutineStorage(pageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoutineStorageAllocAlignsAndBumps(t *testing.T) {
	s := newTestStorage(t)

	_, off1, ok := s.Alloc(10)
	require.True(t, ok)
	require.Equal(t, 0, off1)

	_, off2, ok := s.Alloc(5)
	require.True(t, ok)
	require.Equal(t, 32, off2, "second allocation must start at the next 32-byte boundary")
}

func TestRoutineStorageAllocRefusesBeyondSlab(t *testing.T) {
	s := newTestStorage(t)
	_, _, ok := s.Alloc(pageSize + 1)
	require.False(t, ok)
}

func TestRoutineStorageAllocWritesAreIndependent(t *testing.T) {
	s := newTestStorage(t)
	code1, _, ok := s.Alloc(4)
	require.True(t, ok)
	copy(code1, []byte{0xC3, 0x90, 0x90, 0x90})

	code2, _, ok := s.Alloc(4)
	require.True(t, ok)
	require.NotEqual(t, code1[0], code2[0])
	require.Equal(t, byte(0xC3), s.Base()[0])
}

func TestRoutineStorageExecutableRemapRefusesPastAllocatedMarkWithoutForce(t *testing.T) {
	s := newTestStorage(t)
	_, _, ok := s.Alloc(10)
	require.True(t, ok)

	usedBefore, execBefore := s.used, s.exec
	err := s.ExecutableRemap(pageSize, false)
	require.ErrorIs(t, err, ErrRemapPastMark)
	require.Equal(t, usedBefore, s.used, "a refused remap must not touch the allocated mark")
	require.Equal(t, execBefore, s.exec, "a refused remap must not touch the executable mark")
}

func TestRoutineStorageExecutableRemapIsMonotoneAndIdempotent(t *testing.T) {
	s := newTestStorage(t)
	_, offset, ok := s.Alloc(10)
	require.True(t, ok)

	require.NoError(t, s.ExecutableRemap(offset+10, true))
	markAfterFirst := s.exec

	// Calling again with a target already covered must be a cheap no-op,
	// not attempt to shrink or re-remap backward.
	require.NoError(t, s.ExecutableRemap(offset+10, false))
	require.Equal(t, markAfterFirst, s.exec)
}

func TestRoutineStorageRetainReleaseRefcount(t *testing.T) {
	s := newTestStorage(t)
	s.Retain()
	s.Retain()

	require.False(t, s.Release(), "storage held by one remaining retain must not report free")
	require.True(t, s.Release(), "last release must report free")
}
