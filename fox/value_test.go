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
package fox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueTruncate(t *testing.T) {
	v := ValueFromU64(0xFFFFFFFFFFFFFFFF)
	require.Equal(t, uint64(0xFF), v.Truncate(8).U64())
	require.Equal(t, uint64(0xFFFF), v.Truncate(16).U64())
	require.Equal(t, uint64(0xFFFFFFFF), v.Truncate(32).U64())
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), v.Truncate(64).U64())
}

func TestValueSignExtend(t *testing.T) {
	v := ValueFromU64(0xFF) // -1 as i8
	require.Equal(t, int64(-1), v.SignExtend(8).I64())

	v = ValueFromU64(0x7F) // 127 as i8
	require.Equal(t, int64(127), v.SignExtend(8).I64())
}

func TestValueFloatRoundTrip(t *testing.T) {
	v := ValueFromF32(3.5)
	require.Equal(t, float32(3.5), v.F32())

	v = ValueFromF64(-2.25)
	require.Equal(t, float64(-2.25), v.F64())
}

func TestValueAsType(t *testing.T) {
	v := ValueFromU64(0x1FF)
	require.Equal(t, uint64(0xFF), v.AsType(I8).U64())
	require.Equal(t, uint64(1), v.AsType(Bool).U64())
}

func TestTypePredicates(t *testing.T) {
	require.True(t, I32.IsInteger())
	require.False(t, I32.IsFloat())
	require.True(t, F64.IsFloat())
	require.True(t, I64.IsNumeric())
	require.False(t, Bool.IsNumeric())
	require.Equal(t, 4, I32.ByteSize())
	require.Equal(t, 8, F64.ByteSize())
	require.Equal(t, 32, I32.BitSize())
}
