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
package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRtlIteratorStability is Testable Property 6: appending to an
// RtlInstructions must not invalidate any previously obtained iterator,
// and the just-prior End() iterator must now point at the newly appended
// instruction - even across many appends that force the backing slice to
// reallocate many times over.
func TestRtlIteratorStability(t *testing.T) {
	b := NewRtlInstructions("entry")

	first := b.Append(RtlInstruction{Op: RtlNop, Position: 0})
	require.Equal(t, 0, first.Index())

	for i := 1; i < 1000; i++ {
		prevEnd := b.End()
		appended := b.Append(RtlInstruction{Op: RtlNop, Position: i})
		require.True(t, prevEnd.Equal(appended), "prior End() must now refer to the newly appended record")
		require.Equal(t, i, appended.Get().Position)
		// The very first iterator obtained must still resolve correctly.
		require.Equal(t, 0, first.Get().Position)
	}

	require.Equal(t, 1000, b.Len())
}

func TestRtlInsertBeforeShiftsLaterRecords(t *testing.T) {
	b := NewRtlInstructions("entry")
	b.Append(RtlInstruction{Op: RtlNop, Position: 0})
	second := b.Append(RtlInstruction{Op: RtlNop, Position: 1})

	b.InsertBefore(second, RtlInstruction{Op: RtlMove, Position: 99})

	require.Equal(t, 3, b.Len())
	require.Equal(t, RtlMove, b.At(1).Op)
	require.Equal(t, 1, b.At(2).Position)
}

func TestRegisterSetAllocateLowest(t *testing.T) {
	s := NewRegisterSet(1)
	idx, s, ok := s.AllocateLowest()
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)

	s = s.MarkAllocated(2)
	require.True(t, s.IsAllocated(0))
	require.True(t, s.IsAllocated(2))
	require.False(t, s.IsAllocated(1))
	require.Equal(t, 2, s.Popcount())

	s = s.MarkFree(0)
	require.False(t, s.IsAllocated(0))
	require.Equal(t, 1, s.Popcount())
}
